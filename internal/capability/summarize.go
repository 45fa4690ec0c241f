package capability

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/talktotext/talktotext-pro/internal/job"
	"github.com/talktotext/talktotext-pro/internal/pipeline"
)

const summaryPrompt = `#### Identity & Mission
- **Principle**: Clarity, Accuracy, Efficiency
- **Mission**: Transform a raw text transcript into structured, actionable notes. Your function is to extract, organize, and summarize, not to interpret beyond the provided text.

#### Operational Protocol
1. **Analyze**: Receive the raw text transcript as your sole input.
2. **Optimize**: Cleanse the text by removing filler words, verbatim repetitions, and non-essential content to prepare it for analysis.
3. **Extract**: Process the clean text to derive the five required components exclusively: Abstract Summary, Key Points, Action Items, Decisions, and Sentiment Analysis.

#### Standards & Constraints
- **Comprehensiveness**: The final output MUST include all 5 required sections. No section should be omitted.
- **Objectivity**: Sentiment analysis must be neutral and based strictly on the language used in the text.

#### Output Structure (Mandatory)
# Meeting Summary

## Abstract Summary
(Write the general summary of the meeting here.)

## Key Points
- (The first key point discussed.)

## Action Items
1. (The first action item.)

## Decisions
- (The first decision made.)

## Sentiment Analysis
(State the sentiment: Positive, Negative, or Neutral, with a brief, direct justification.)`

// ReportSummarizer implements pipeline.Summarizer: hierarchical
// summarization over chat completions, then parses the mandated five-section
// report into structured fields. The rendered report is stored verbatim as
// FullReport; it is never regenerated on read.
type ReportSummarizer struct {
	client *OpenAIClient
	logger *slog.Logger
}

// NewReportSummarizer creates a ReportSummarizer.
func NewReportSummarizer(client *OpenAIClient, logger *slog.Logger) *ReportSummarizer {
	return &ReportSummarizer{
		client: client,
		logger: logger,
	}
}

// Summarize produces the structured summary for transcript.
func (s *ReportSummarizer) Summarize(ctx context.Context, transcript string) (job.Summary, error) {
	chunks := pipeline.SplitChunks(transcript, pipeline.DefaultChunkSize)
	if len(chunks) == 0 {
		return job.Summary{}, job.NewPermanentError(
			fmt.Errorf("transcript was empty after cleaning, nothing to summarize"))
	}

	partials := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		s.logger.Info("Summarizing transcript chunk",
			slog.Int("chunk", i+1),
			slog.Int("total", len(chunks)),
		)

		out, err := s.client.ChatComplete(ctx, s.client.cfg.SummarizationModel, []ChatMessage{
			{Role: "system", Content: summaryPrompt},
			{Role: "user", Content: fmt.Sprintf("Please summarize this part of the transcript:\n\n---\n%s\n---", chunk)},
		})
		if err != nil {
			return job.Summary{}, err
		}
		partials = append(partials, out)
	}

	report := partials[0]
	if len(partials) > 1 {
		merged := strings.Join(partials, "\n\n---\n[End of Part]\n---\n\n")
		final, err := s.client.ChatComplete(ctx, s.client.cfg.SummarizationModel, []ChatMessage{
			{Role: "system", Content: summaryPrompt},
			{Role: "user", Content: "You have been provided with summaries from different parts of a single recording. " +
				"Synthesize them into one final, cohesive summary that follows all required output sections. " +
				"Ensure the final output is a single, unified document.\n\n---\n" + merged + "\n---"},
		})
		if err != nil {
			return job.Summary{}, err
		}
		report = final
	}

	summary, err := ParseReport(report)
	if err != nil {
		return job.Summary{}, job.NewPermanentError(err)
	}

	return summary, nil
}
