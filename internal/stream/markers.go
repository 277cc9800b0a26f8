package stream

import (
	"fmt"
	"regexp"
)

// MarkerType identifies a protocol marker embedded in assistant text
type MarkerType string

const (
	MarkerHalt                MarkerType = "HALT"
	MarkerCreateStoryComplete MarkerType = "CREATE_STORY_COMPLETE"
	MarkerDevStoryComplete    MarkerType = "DEV_STORY_COMPLETE"
	MarkerCodeReviewApproved  MarkerType = "CODE_REVIEW_APPROVED"
	MarkerCodeReviewIssues    MarkerType = "CODE_REVIEW_ISSUES"
	MarkerNoBacklogStories    MarkerType = "NO_BACKLOG_STORIES"
	MarkerNoReadyStories      MarkerType = "NO_READY_STORIES"
)

// pairedMarkers carry a payload between open and close tags
var pairedMarkers = []MarkerType{
	MarkerHalt,
	MarkerCreateStoryComplete,
	MarkerDevStoryComplete,
	MarkerCodeReviewApproved,
	MarkerCodeReviewIssues,
}

// pairedMarkerRE maps each paired marker to its tag pattern. Payloads are
// matched non-greedily and may span newlines.
var pairedMarkerRE = func() map[MarkerType]*regexp.Regexp {
	m := make(map[MarkerType]*regexp.Regexp, len(pairedMarkers))
	for _, tag := range pairedMarkers {
		m[tag] = regexp.MustCompile(fmt.Sprintf(`(?s)<%s>(.*?)</%s>`, tag, tag))
	}
	return m
}()

// selfClosingRE matches payload-less markers like <NO_BACKLOG_STORIES/>
var selfClosingRE = regexp.MustCompile(`<(NO_BACKLOG_STORIES|NO_READY_STORIES)\s*/>`)

// DetectMarkers scans assistant text for protocol markers. Tags outside the
// known vocabulary are ignored. The result preserves in-text order within
// each marker kind.
func DetectMarkers(text string) []MarkerEvent {
	var markers []MarkerEvent

	for _, tag := range pairedMarkers {
		for _, match := range pairedMarkerRE[tag].FindAllStringSubmatch(text, -1) {
			markers = append(markers, MarkerEvent{Type: tag, Payload: match[1]})
		}
	}

	for _, match := range selfClosingRE.FindAllStringSubmatch(text, -1) {
		markers = append(markers, MarkerEvent{Type: MarkerType(match[1])})
	}

	return markers
}
