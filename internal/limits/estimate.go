package limits

// EstimateTokens is the pre-flight heuristic used to reserve TPM budget
// before the provider reports actual usage: roughly four bytes of message
// content per token, plus the requested completion ceiling.
func EstimateTokens(contentBytes int, maxTokens int64) int64 {
	est := int64(contentBytes) / 4
	if maxTokens > 0 {
		est += maxTokens
	}
	if est < 1 {
		est = 1
	}
	return est
}
