package index

// Index mappings for the two index families. source_text and excerpt carry
// three analyzers: the default brazilian one (stemmed, stopwords stripped),
// with_stopwords (stemmed, stopwords kept for phrase proximity) and exact
// (lowercased only). All three store offsets and positional term vectors,
// which the fast-vector highlighter requires.

const analysisSettings = `
		"analysis": {
			"filter": {
				"brazilian_stemmer": {
					"type": "stemmer",
					"language": "brazilian"
				}
			},
			"analyzer": {
				"brazilian_with_stopwords": {
					"tokenizer": "standard",
					"filter": ["lowercase", "brazilian_stemmer"]
				},
				"exact": {
					"tokenizer": "standard",
					"filter": ["lowercase"]
				}
			}
		}`

// GazettesIndexBody returns the mappings and settings of the gazette
// full-text index.
func GazettesIndexBody() []byte {
	return []byte(`{
	"mappings": {
		"properties": {
			"created_at": {"type": "date"},
			"date": {"type": "date"},
			"edition_number": {
				"type": "text",
				"fields": {"keyword": {"type": "keyword", "ignore_above": 256}}
			},
			"file_checksum": {"type": "keyword"},
			"file_path": {"type": "keyword"},
			"file_url": {"type": "keyword"},
			"file_raw_txt": {"type": "keyword"},
			"id": {"type": "keyword"},
			"is_extra_edition": {"type": "boolean"},
			"power": {"type": "keyword"},
			"processed": {"type": "boolean"},
			"scraped_at": {"type": "date"},
			"source_text": {
				"type": "text",
				"analyzer": "brazilian",
				"index_options": "offsets",
				"term_vector": "with_positions_offsets",
				"fields": {
					"with_stopwords": {
						"type": "text",
						"analyzer": "brazilian_with_stopwords",
						"index_options": "offsets",
						"term_vector": "with_positions_offsets"
					},
					"exact": {
						"type": "text",
						"analyzer": "exact",
						"index_options": "offsets",
						"term_vector": "with_positions_offsets"
					}
				}
			},
			"state_code": {"type": "keyword"},
			"territory_id": {"type": "keyword"},
			"territory_name": {
				"type": "text",
				"fields": {"keyword": {"type": "keyword", "ignore_above": 256}}
			},
			"url": {"type": "keyword"}
		}
	},
	"settings": {
		"index": {
			"sort.field": ["territory_id", "date"],
			"sort.order": ["asc", "desc"]
		},` + analysisSettings + `
	}
}`)
}

// ThemedExcerptsIndexBody returns the mappings and settings of one theme's
// excerpt index. The embedding and tf-idf scores are rank features, so they
// must always be strictly positive.
func ThemedExcerptsIndexBody() []byte {
	return []byte(`{
	"mappings": {
		"properties": {
			"excerpt_embedding_score": {"type": "rank_feature"},
			"excerpt_tfidf_score": {"type": "rank_feature"},
			"excerpt_subthemes": {"type": "keyword"},
			"excerpt_entities": {"type": "keyword"},
			"excerpt": {
				"type": "text",
				"analyzer": "brazilian",
				"index_options": "offsets",
				"term_vector": "with_positions_offsets",
				"fields": {
					"with_stopwords": {
						"type": "text",
						"analyzer": "brazilian_with_stopwords",
						"index_options": "offsets",
						"term_vector": "with_positions_offsets"
					},
					"exact": {
						"type": "text",
						"analyzer": "exact",
						"index_options": "offsets",
						"term_vector": "with_positions_offsets"
					}
				}
			},
			"excerpt_id": {"type": "keyword"},
			"source_database_id": {"type": "long"},
			"source_index_id": {"type": "keyword"},
			"source_created_at": {"type": "date"},
			"source_date": {"type": "date"},
			"source_edition_number": {"type": "keyword"},
			"source_file_checksum": {"type": "keyword"},
			"source_file_path": {"type": "keyword"},
			"source_file_raw_txt": {"type": "keyword"},
			"source_file_url": {"type": "keyword"},
			"source_is_extra_edition": {"type": "boolean"},
			"source_power": {"type": "keyword"},
			"source_processed": {"type": "boolean"},
			"source_scraped_at": {"type": "date"},
			"source_state_code": {"type": "keyword"},
			"source_territory_id": {"type": "keyword"},
			"source_territory_name": {"type": "keyword"},
			"source_url": {"type": "keyword"}
		}
	},
	"settings": {
		"index": {
			"sort.field": ["source_territory_id", "source_date"],
			"sort.order": ["asc", "desc"]
		},` + analysisSettings + `
	}
}`)
}
