package segmentation

import (
	"fmt"
	"regexp"
	"strings"

	"diario/internal/core"
)

const alagoasState = "AL"

// alagoasBoundary marks the start of one municipality's section inside the
// AMA association gazette. The captured name may wrap onto a second line; a
// following whitespace or SECRETARIA line closes the section header.
var alagoasBoundary = regexp.MustCompile(
	`ESTADO DE ALAGOAS[ \t]*\n\n?PREFEITURA MUNICIPAL DE ([^\n]+(?:\n\n?[^\n]+)??)\n\s(?:\s|SECRETARIA|Secretaria)`,
)

// alagoasNameBlacklist strips section titles that leak into the captured
// municipality name when the header wraps. Without it a name like
// "VIÇOSA/AL - SECRETARIA MUNICIPAL..." would produce a bogus slug.
var alagoasNameBlacklist = regexp.MustCompile(
	`(/AL.*|GABINETE DO PREFEITO.*|PODER.*|http.*|PORTARIA.*|Extrato.*|ATA DE.*|SECRETARIA.*|Fundo.*|SETOR.*|ERRATA.*|- AL.*|GABINETE.*|EXTRATO.*|SÚMULA.*|RATIFICAÇÃO.*)`,
)

// alagoasSegmenter splits the AMA (Associação dos Municípios Alagoanos)
// aggregated gazette into one segment per municipality.
type alagoasSegmenter struct {
	lookup *territoryLookup
}

func newAlagoasSegmenter(territories []core.Territory) *alagoasSegmenter {
	return &alagoasSegmenter{lookup: newTerritoryLookup(territories)}
}

// Segments implements Segmenter.
func (s *alagoasSegmenter) Segments(g core.Gazette) ([]core.Segment, error) {
	lines := strings.Split(strings.TrimLeft(g.SourceText, " \t\r\n"), "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) == "" {
		return nil, nil
	}
	header := lines[0]
	kept := dropRepeatedHeaderAndTrailer(lines, header, strings.Count(g.SourceText, "Código Identificador"))

	// Walk the remaining lines accumulating text per municipality. Content
	// before the first boundary belongs to nobody and is discarded.
	var order []string
	sections := map[string]*strings.Builder{}
	current := ""
	for i, raw := range kept {
		line := strings.TrimRight(raw, " \t\r")
		if strings.HasPrefix(line, "ESTADO DE ALAGOAS") {
			if name, ok := extractMunicipalityName(kept, i); ok {
				slug := TerritorySlug(alagoasState, normalizeMunicipalityName(name))
				current = slug
				if _, seen := sections[slug]; !seen {
					b := &strings.Builder{}
					b.WriteString(header)
					b.WriteString("\n\n")
					sections[slug] = b
					order = append(order, slug)
				}
			}
		}
		if current == "" {
			continue
		}
		sections[current].WriteString(line)
		sections[current].WriteByte('\n')
	}

	segments := make([]core.Segment, 0, len(order))
	for _, slug := range order {
		territory, ok := s.lookup.resolve(slug)
		if !ok {
			return nil, fmt.Errorf("territory slug %q does not match any territory", slug)
		}
		seg := core.Segment{Gazette: g}
		seg.TerritoryID = territory.ID
		seg.TerritoryName = territory.Name
		seg.StateCode = territory.StateCode
		seg.SourceText = strings.TrimRight(sections[slug].String(), " \t\r\n")
		seg.FileChecksum = core.Checksum(seg.SourceText)
		seg.Processed = true
		seg.URL = ""
		seg.FileRawTxt = ""
		segments = append(segments, seg)
	}
	return segments, nil
}

// dropRepeatedHeaderAndTrailer removes every repetition of the association
// header after the first one, and every line after the last occurrence of the
// "Código Identificador" marker.
func dropRepeatedHeaderAndTrailer(lines []string, header string, markerTotal int) []string {
	kept := make([]string, 0, len(lines))
	headerSeen := 0
	markerSeen := 0
	for _, line := range lines {
		if strings.HasPrefix(line, header) {
			headerSeen++
			if headerSeen > 1 {
				continue
			}
		}
		if markerTotal > 0 && markerSeen == markerTotal {
			continue
		}
		if strings.HasPrefix(line, "Código Identificador") {
			markerSeen++
		}
		kept = append(kept, line)
	}
	return kept
}

// extractMunicipalityName matches the boundary grammar against a ten-line
// window starting at the boundary line. Sections of the association itself
// (headed "... DE EDUCAÇÃO") are not municipality boundaries, and a wrapped
// name whose continuation starts with VAMOS keeps only its first line. That
// string shows up in campaign slogans right below the header, not in names.
func extractMunicipalityName(lines []string, start int) (string, bool) {
	end := start + 10
	if end > len(lines) {
		end = len(lines)
	}
	window := strings.Join(lines[start:end], "\n")
	m := alagoasBoundary.FindStringSubmatch(window)
	if m == nil {
		return "", false
	}
	name := m[1]
	if strings.HasPrefix(strings.TrimSpace(name), "EDUCAÇÃO") {
		return "", false
	}
	if first, rest, wrapped := strings.Cut(name, "\n"); wrapped {
		if strings.HasPrefix(strings.TrimSpace(rest), "VAMOS") {
			name = first
		}
	}
	return strings.TrimSpace(strings.ReplaceAll(name, "\n", " ")), true
}

// normalizeMunicipalityName strips trailing section titles from a candidate
// municipality name.
func normalizeMunicipalityName(name string) string {
	return strings.TrimSpace(alagoasNameBlacklist.ReplaceAllString(name, ""))
}
