package models

import (
	"encoding/json"
	"testing"
)

func TestGranuleIDRoundTrip(t *testing.T) {
	ids := []string{
		"HLS.S30.T01GEL.2019059T213751.v2.0",
		"HLS.L30.T35VLH.2020366T100529.v2.0",
		"HLS.S30.T60WWV.2021001T000000.v1.5",
	}
	for _, s := range ids {
		parsed, err := ParseGranuleID(s)
		if err != nil {
			t.Fatalf("parse %q: %v", s, err)
		}
		if got := parsed.String(); got != s {
			t.Fatalf("round trip %q: got %q", s, got)
		}
	}
}

func TestGranuleIDComponents(t *testing.T) {
	parsed, err := ParseGranuleID("HLS.S30.T01GEL.2019059T213751.v2.0")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.Product != "HLS" || parsed.Platform != "S30" || parsed.Tile != "T01GEL" {
		t.Fatalf("unexpected components: %+v", parsed)
	}
	if parsed.Version != "v2.0" {
		t.Fatalf("version: got %q", parsed.Version)
	}
	if got := parsed.AcquisitionDate(); got != "2019-02-28" {
		t.Fatalf("acquisition date: got %q", got)
	}
}

func TestParseGranuleIDErrors(t *testing.T) {
	bad := []string{
		"",
		"HLS.S30.T01GEL.2019059T213751",
		"HLS.S30.T01GEL.notatime.v2.0",
		"HLS.S30.T01GEL.2019059T213751.v2.0.extra",
	}
	for _, s := range bad {
		if _, err := ParseGranuleID(s); err == nil {
			t.Fatalf("expected error parsing %q", s)
		}
	}
}

func TestNewAttempt(t *testing.T) {
	event := GranuleProcessingEvent{
		GranuleID:   "HLS.S30.T01GEL.2019059T213751.v2.0",
		Attempt:     2,
		DebugBucket: "scratch-bucket",
	}
	next := event.NewAttempt()
	if next.Attempt != 3 {
		t.Fatalf("attempt: got %d", next.Attempt)
	}
	if next.GranuleID != event.GranuleID || next.DebugBucket != event.DebugBucket {
		t.Fatalf("successor lost fields: %+v", next)
	}
	if event.Attempt != 2 {
		t.Fatalf("original mutated: %+v", event)
	}
}

func TestEventEnvRoundTrip(t *testing.T) {
	event := GranuleProcessingEvent{GranuleID: "HLS.S30.T01GEL.2019059T213751.v2.0", Attempt: 4}
	got, err := EventFromEnv(event.ToEnv())
	if err != nil {
		t.Fatalf("from env: %v", err)
	}
	if got != event {
		t.Fatalf("env round trip: got %+v want %+v", got, event)
	}

	withDebug := event
	withDebug.DebugBucket = "scratch-bucket"
	got, err = EventFromEnv(withDebug.ToEnv())
	if err != nil {
		t.Fatalf("from env with debug: %v", err)
	}
	if got != withDebug {
		t.Fatalf("env round trip with debug: got %+v", got)
	}
}

func TestEventFromEnvMissingKeys(t *testing.T) {
	cases := []map[string]string{
		{},
		{EnvGranuleID: "HLS.S30.T01GEL.2019059T213751.v2.0"},
		{EnvAttempt: "0"},
		{EnvGranuleID: "HLS.S30.T01GEL.2019059T213751.v2.0", EnvAttempt: "zero"},
	}
	for _, env := range cases {
		if _, err := EventFromEnv(env); err == nil {
			t.Fatalf("expected error for env %v", env)
		}
	}
}

func TestEventJSON(t *testing.T) {
	event := GranuleProcessingEvent{GranuleID: "HLS.S30.T01GEL.2019059T213751.v2.0", Attempt: 1}
	body, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got GranuleProcessingEvent
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got != event {
		t.Fatalf("json round trip: got %+v", got)
	}
}

func TestJobOutcomeProjection(t *testing.T) {
	if JobSuccess.ProcessingOutcome() != OutcomeSuccess {
		t.Fatalf("success projection")
	}
	if JobFailureRetryable.ProcessingOutcome() != OutcomeFailure {
		t.Fatalf("retryable projection")
	}
	if JobFailureNonretryable.ProcessingOutcome() != OutcomeFailure {
		t.Fatalf("nonretryable projection")
	}
}
