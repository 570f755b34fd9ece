package embedding

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b []float64
		want float64
	}{
		{"identical", []float64{1, 2, 3}, []float64{1, 2, 3}, 1},
		{"orthogonal", []float64{1, 0}, []float64{0, 1}, 0},
		{"opposite", []float64{1, 0}, []float64{-1, 0}, -1},
		{"zero vector", []float64{0, 0}, []float64{1, 1}, 0},
		{"dimension mismatch", []float64{1, 2}, []float64{1, 2, 3}, 0},
		{"empty", nil, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Cosine(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Cosine = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMaxSimilarityIsStrictlyPositive(t *testing.T) {
	refs := [][]float64{{0, 1}, {-1, 0}}
	got := MaxSimilarity([]float64{1, 0}, refs)
	if got <= 0 {
		t.Errorf("MaxSimilarity = %v, want a strictly positive score", got)
	}
	if got != scoreFloor {
		t.Errorf("MaxSimilarity = %v, want the %v floor for non-positive similarities", got, scoreFloor)
	}
}

func TestMaxSimilarityPicksBestReference(t *testing.T) {
	refs := [][]float64{{0, 1}, {1, 1}, {1, 0}}
	got := MaxSimilarity([]float64{1, 0}, refs)
	if math.Abs(got-1) > 1e-9 {
		t.Errorf("MaxSimilarity = %v, want 1", got)
	}
}

func TestEncode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body struct {
			Model  string `json:"model"`
			Prompt string `json:"prompt"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if body.Model != "test-model" || body.Prompt != "licitações" {
			t.Errorf("unexpected request body: %+v", body)
		}
		json.NewEncoder(w).Encode(map[string]any{"embedding": []float64{0.1, 0.2, 0.3}})
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-model")
	vec, err := client.Encode(context.Background(), "licitações")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(vec) != 3 || vec[0] != 0.1 {
		t.Errorf("unexpected vector %v", vec)
	}
}

func TestEncodeServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-model")
	if _, err := client.Encode(context.Background(), "texto"); err == nil {
		t.Fatal("expected an error on a 500 response")
	}
}
