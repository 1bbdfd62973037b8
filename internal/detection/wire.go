package detection

import (
	"rollcall/internal/attendance"
)

// subjectPayload is the JSON shape of one enrollable subject sent to a backend
type subjectPayload struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Encoding []float64 `json:"encoding"`
}

func toPayload(subjects []attendance.Subject) []subjectPayload {
	out := make([]subjectPayload, 0, len(subjects))
	for _, s := range subjects {
		if len(s.ReferenceEncoding) == 0 {
			continue
		}
		out = append(out, subjectPayload{ID: s.ID, Name: s.DisplayName, Encoding: s.ReferenceEncoding})
	}
	return out
}

// Match is one recognized face as reported by a backend
type Match struct {
	ID         string  `json:"id"`
	Name       string  `json:"name,omitempty"`
	Similarity float64 `json:"similarity"`
}

// RecognitionResult is the response body of the HTTP and gRPC backends
type RecognitionResult struct {
	Matches         []Match `json:"matches"`
	FaceCount       int     `json:"face_count"`
	InferenceTimeMs float64 `json:"inference_time_ms"`
}

// filterMatches keeps matches of enrolled subjects at or above threshold.
// The display name always comes from the enrollment, never the backend.
// A subject matched more than once keeps a single entry.
func filterMatches(matches []Match, subjects []attendance.Subject, threshold float64) map[string]string {
	enrolled := make(map[string]string, len(subjects))
	for _, s := range subjects {
		enrolled[s.ID] = s.DisplayName
	}

	found := make(map[string]string)
	for _, m := range matches {
		name, ok := enrolled[m.ID]
		if !ok {
			continue
		}
		if m.Similarity > 0 && m.Similarity < threshold {
			continue
		}
		found[m.ID] = name
	}
	return found
}
