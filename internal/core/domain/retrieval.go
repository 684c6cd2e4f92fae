package domain

type CandidateSource string

const (
	SourceVector  CandidateSource = "vector"
	SourceKeyword CandidateSource = "keyword"
)

// Candidate is one retriever's view of a chunk: its 0-indexed rank in that
// retriever's result list plus the retriever-native score. Scores from
// different sources are not comparable; only ranks are fused.
type Candidate struct {
	Chunk  Chunk
	Rank   int
	Source CandidateSource
	Score  float64
}

type FusedCandidate struct {
	Chunk       Chunk
	FusionScore float64
	BestRank    int
}

type RankedCandidate struct {
	Chunk          Chunk
	FusionScore    float64
	RelevanceScore float64
}

type Source struct {
	DocumentID string  `json:"document_id"`
	Excerpt    string  `json:"excerpt"`
	Score      float64 `json:"score"`
}

type Answer struct {
	Text      string   `json:"answer"`
	Sources   []Source `json:"sources"`
	SessionID string   `json:"session_id"`
}
