package api

import (
	"math"
	"net/url"
	"testing"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-sentinel/internal/models"
)

func TestAnomalyRequestFromStruct(t *testing.T) {
	in, err := structpb.NewStruct(map[string]any{
		"service":    "payments",
		"min_score":  0.5,
		"hours":      12,
		"limit":      10,
		"page_token": "20",
	})
	if err != nil {
		t.Fatalf("build struct: %v", err)
	}
	req, err := AnomalyRequestFromStruct(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.Service != "payments" || req.MinScore != 0.5 || req.Hours != 12 || req.Limit != 10 || req.PageToken != "20" {
		t.Fatalf("unexpected request: %+v", req)
	}

	empty, err := AnomalyRequestFromStruct(nil)
	if err != nil || empty.Limit != 0 {
		t.Fatalf("nil struct should map to defaults, got %+v, %v", empty, err)
	}
}

func TestRequestFromStructRejectsWrongTypes(t *testing.T) {
	cases := []map[string]any{
		{"limit": "ten"},
		{"limit": 2.5},
		{"service": 7},
	}
	for _, fields := range cases {
		in, err := structpb.NewStruct(fields)
		if err != nil {
			t.Fatalf("build struct: %v", err)
		}
		if _, err := AnomalyRequestFromStruct(in); err == nil {
			t.Fatalf("expected error for %v", fields)
		}
	}

	in, _ := structpb.NewStruct(map[string]any{"min_confidence": "high"})
	if _, err := RootCauseRequestFromStruct(in); err == nil {
		t.Fatalf("expected error for string min_confidence")
	}
}

func TestRequestFromQuery(t *testing.T) {
	q := url.Values{"service": {"auth"}, "min_confidence": {"0.7"}, "limit": {"3"}}
	req, err := RootCauseRequestFromQuery(q)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.Service != "auth" || req.MinConfidence != 0.7 || req.Limit != 3 {
		t.Fatalf("unexpected request: %+v", req)
	}

	if _, err := AnomalyRequestFromQuery(url.Values{"hours": {"many"}}); err == nil {
		t.Fatalf("expected error for non-numeric hours")
	}

	for _, q := range []url.Values{
		{"min_score": {"NaN"}},
		{"min_score": {"-Inf"}},
		{"hours": {"+Inf"}},
	} {
		if _, err := AnomalyRequestFromQuery(q); err == nil {
			t.Fatalf("expected error for %v", q)
		}
	}
	if _, err := RootCauseRequestFromQuery(url.Values{"min_confidence": {"nan"}}); err == nil {
		t.Fatalf("expected error for NaN min_confidence")
	}
}

func TestRequestFromStructRejectsNonFinite(t *testing.T) {
	in := &structpb.Struct{Fields: map[string]*structpb.Value{
		"min_score": structpb.NewNumberValue(math.NaN()),
	}}
	if _, err := AnomalyRequestFromStruct(in); err == nil {
		t.Fatalf("expected error for NaN min_score")
	}
	in.Fields["min_score"] = structpb.NewNumberValue(math.Inf(1))
	if _, err := AnomalyRequestFromStruct(in); err == nil {
		t.Fatalf("expected error for infinite min_score")
	}
}

func TestToStructUsesJSONNames(t *testing.T) {
	out, err := ToStruct(models.RemediationResult{Category: "dns_failure", Priority: models.PriorityHigh, ConfidenceScore: 0.8})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fields := out.GetFields()
	if fields["issue_category"].GetStringValue() != "dns_failure" {
		t.Fatalf("unexpected struct: %v", out)
	}
	if fields["confidence_score"].GetNumberValue() != 0.8 {
		t.Fatalf("unexpected confidence: %v", fields["confidence_score"])
	}
}
