package constants

// ConfidenceBand buckets a classification confidence.
type ConfidenceBand string

const (
	BandHigh    ConfidenceBand = "HIGH"
	BandMedium  ConfidenceBand = "MEDIUM"
	BandLow     ConfidenceBand = "LOW"
	BandUnknown ConfidenceBand = "UNKNOWN"
)

const (
	HighConfidenceThreshold   = 0.90
	MediumConfidenceThreshold = 0.80
)

// BandFor maps a confidence score onto its band.
func BandFor(confidence float64) ConfidenceBand {
	switch {
	case confidence >= HighConfidenceThreshold:
		return BandHigh
	case confidence >= MediumConfidenceThreshold:
		return BandMedium
	case confidence > 0:
		return BandLow
	default:
		return BandUnknown
	}
}

// ClassificationStatus is the pipeline status recorded for a band.
func (b ConfidenceBand) ClassificationStatus() PipelineStatus {
	switch b {
	case BandHigh:
		return StatusClassificationCompleted
	case BandMedium, BandLow:
		return StatusClassificationCompletedLowConfidence
	default:
		return StatusClassificationUncertain
	}
}

// QualityLevel grades an extraction.
type QualityLevel string

const (
	QualityExcellent  QualityLevel = "EXCELLENT"
	QualityGood       QualityLevel = "GOOD"
	QualityAcceptable QualityLevel = "ACCEPTABLE"
	QualityPoor       QualityLevel = "POOR"
	QualityFailed     QualityLevel = "FAILED"
)

// QualityFor maps a 0..1 extraction score onto its level.
func QualityFor(score float64) QualityLevel {
	switch {
	case score >= 0.9:
		return QualityExcellent
	case score >= 0.7:
		return QualityGood
	case score >= 0.5:
		return QualityAcceptable
	case score > 0:
		return QualityPoor
	default:
		return QualityFailed
	}
}

// ExtractionStatus is the pipeline status recorded for a quality level.
func (q QualityLevel) ExtractionStatus() PipelineStatus {
	switch q {
	case QualityExcellent, QualityGood:
		return StatusExtractionCompleted
	case QualityAcceptable:
		return StatusExtractionCompletedLowQuality
	default:
		return StatusExtractionCompletedWithIssues
	}
}

// ProcessingMode is how a document is classified.
type ProcessingMode string

const (
	ModeText   ProcessingMode = "text"
	ModeVision ProcessingMode = "vision"
)
