package model

// SourceRecord is one source a run visited, as recorded live in
// evidence/sources.jsonl or reconstructed from the run's event log.
type SourceRecord struct {
	URL         string `json:"url"`
	FinalURL    string `json:"final_url,omitempty"`
	Host        string `json:"host,omitempty"`
	Status      string `json:"status,omitempty"`
	Tier        int    `json:"tier,omitempty"`
	Role        string `json:"role,omitempty"`
	ArtifactKey string `json:"artifact_key,omitempty"`
}

// ReplayManifest is the ordered source list reconstructed from a past
// run's event log. It is computed on demand and never persisted.
type ReplayManifest struct {
	Category  string         `json:"category"`
	ProductID string         `json:"product_id"`
	RunID     string         `json:"run_id"`
	Sources   []SourceRecord `json:"sources"`
}

// URLs returns the ordered source URL list, which is the property replay
// golden tests compare against the live recording.
func (m *ReplayManifest) URLs() []string {
	out := make([]string, 0, len(m.Sources))
	for _, s := range m.Sources {
		out = append(out, s.URL)
	}
	return out
}
