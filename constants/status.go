package constants

// PipelineStatus is the canonical status of a document moving through the pipeline.
type PipelineStatus string

// Stable values (stored as-is in the documents table and status documents).
const (
	StatusIngested               PipelineStatus = "Ingested"
	StatusOCRCompleted           PipelineStatus = "OCR_Completed"
	StatusPreprocessingCompleted PipelineStatus = "Preprocessing_Completed"

	StatusClassificationCompleted              PipelineStatus = "Classification_Completed"
	StatusClassificationCompletedLowConfidence PipelineStatus = "Classification_Completed_Low_Confidence"
	StatusClassificationUncertain              PipelineStatus = "Classification_Uncertain"

	StatusExtractionCompleted           PipelineStatus = "Extraction_Completed"
	StatusExtractionCompletedLowQuality PipelineStatus = "Extraction_Completed_Low_Quality"
	StatusExtractionCompletedWithIssues PipelineStatus = "Extraction_Completed_With_Issues"

	StatusBoundingBoxCompleted PipelineStatus = "BoundingBox_Completed"
	StatusValidationCompleted  PipelineStatus = "Validation_Completed"

	StatusCompletedSuccessfully PipelineStatus = "Completed_Successfully"
	StatusCompletedWithError    PipelineStatus = "Completed_With_Error"

	StatusFailedIngestion      PipelineStatus = "Failed_Ingestion"
	StatusFailedOCR            PipelineStatus = "Failed_OCR"
	StatusFailedClassification PipelineStatus = "Failed_Classification"
	StatusFailedExtraction     PipelineStatus = "Failed_Extraction"
	StatusFailedOutput         PipelineStatus = "Failed_Output"
)

// IsFailed reports whether s is one of the Failed_<Stage> statuses.
func (s PipelineStatus) IsFailed() bool {
	switch s {
	case StatusFailedIngestion, StatusFailedOCR, StatusFailedClassification,
		StatusFailedExtraction, StatusFailedOutput:
		return true
	}
	return false
}

// IsTerminal reports whether no further stage will run for s.
func (s PipelineStatus) IsTerminal() bool {
	return s == StatusCompletedSuccessfully || s == StatusCompletedWithError
}
