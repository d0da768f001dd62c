package models

// ArtifactType classifies a file tracked by a pipeline: either an original
// upload or one of the artifacts a step handler derived from it.
type ArtifactType string

const (
	ArtifactUndefined        ArtifactType = "undefined"
	ArtifactExtractedContent ArtifactType = "extracted_content"
	ArtifactTextPartition    ArtifactType = "text_partition"
	ArtifactSyntheticData    ArtifactType = "synthetic_data"
	ArtifactEmbeddingVector  ArtifactType = "text_embedding_vector"
	ArtifactTextSummary      ArtifactType = "text_summarization"
)

// IsValid checks if the ArtifactType is a known, valid type
func (a ArtifactType) IsValid() bool {
	switch a {
	case ArtifactUndefined, ArtifactExtractedContent, ArtifactTextPartition,
		ArtifactSyntheticData, ArtifactEmbeddingVector, ArtifactTextSummary:
		return true
	}
	return false
}

// String returns the string representation of the ArtifactType
func (a ArtifactType) String() string {
	return string(a)
}
