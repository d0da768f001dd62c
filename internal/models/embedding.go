package models

import "time"

// EmbeddingFileContent is the JSON body of a text_embedding_vector artifact.
// It links the vector back to the partition it was generated from and the
// generator that produced it.
type EmbeddingFileContent struct {
	GeneratorName     string    `json:"generator_name"`
	GeneratorProvider string    `json:"generator_provider"`
	VectorSize        int       `json:"vector_size"`
	SourceFileName    string    `json:"source_file_name"`
	Vector            []float32 `json:"vector"`
	TimeStamp         time.Time `json:"timestamp"`
}
