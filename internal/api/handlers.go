package api

import (
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"strconv"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-sentinel/internal/services"
)

// AnomalyRequestFromStruct maps a gRPC request struct into a service request.
// Recognised fields: service, min_score, hours, limit, page_token.
func AnomalyRequestFromStruct(in *structpb.Struct) (services.AnomalyRequest, error) {
	var req services.AnomalyRequest
	fields := in.GetFields()
	var err error
	if req.Service, err = stringField(fields, "service"); err != nil {
		return req, err
	}
	if req.MinScore, err = numberField(fields, "min_score"); err != nil {
		return req, err
	}
	if req.Hours, err = intField(fields, "hours"); err != nil {
		return req, err
	}
	if req.Limit, err = intField(fields, "limit"); err != nil {
		return req, err
	}
	if req.PageToken, err = stringField(fields, "page_token"); err != nil {
		return req, err
	}
	return req, nil
}

// RootCauseRequestFromStruct maps a gRPC request struct into a service request.
// Recognised fields: service, min_confidence, limit, page_token.
func RootCauseRequestFromStruct(in *structpb.Struct) (services.RootCauseRequest, error) {
	var req services.RootCauseRequest
	fields := in.GetFields()
	var err error
	if req.Service, err = stringField(fields, "service"); err != nil {
		return req, err
	}
	if req.MinConfidence, err = numberField(fields, "min_confidence"); err != nil {
		return req, err
	}
	if req.Limit, err = intField(fields, "limit"); err != nil {
		return req, err
	}
	if req.PageToken, err = stringField(fields, "page_token"); err != nil {
		return req, err
	}
	return req, nil
}

// AnomalyRequestFromQuery parses REST query parameters.
func AnomalyRequestFromQuery(q url.Values) (services.AnomalyRequest, error) {
	var req services.AnomalyRequest
	var err error
	req.Service = q.Get("service")
	req.PageToken = q.Get("page_token")
	if req.MinScore, err = floatParam(q, "min_score"); err != nil {
		return req, err
	}
	if req.Hours, err = intParam(q, "hours"); err != nil {
		return req, err
	}
	if req.Limit, err = intParam(q, "limit"); err != nil {
		return req, err
	}
	return req, nil
}

// RootCauseRequestFromQuery parses REST query parameters.
func RootCauseRequestFromQuery(q url.Values) (services.RootCauseRequest, error) {
	var req services.RootCauseRequest
	var err error
	req.Service = q.Get("service")
	req.PageToken = q.Get("page_token")
	if req.MinConfidence, err = floatParam(q, "min_confidence"); err != nil {
		return req, err
	}
	if req.Limit, err = intParam(q, "limit"); err != nil {
		return req, err
	}
	return req, nil
}

// ToStruct renders v through its JSON form, so field names match the REST API.
func ToStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal response: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("response is not an object: %w", err)
	}
	return structpb.NewStruct(m)
}

func stringField(fields map[string]*structpb.Value, name string) (string, error) {
	v, ok := fields[name]
	if !ok || isNull(v) {
		return "", nil
	}
	s, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok {
		return "", fmt.Errorf("%s must be a string", name)
	}
	return s.StringValue, nil
}

func numberField(fields map[string]*structpb.Value, name string) (float64, error) {
	v, ok := fields[name]
	if !ok || isNull(v) {
		return 0, nil
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, fmt.Errorf("%s must be a number", name)
	}
	if !finite(n.NumberValue) {
		return 0, fmt.Errorf("%s must be a finite number", name)
	}
	return n.NumberValue, nil
}

func intField(fields map[string]*structpb.Value, name string) (int, error) {
	f, err := numberField(fields, name)
	if err != nil {
		return 0, err
	}
	if f != float64(int(f)) {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	return int(f), nil
}

func isNull(v *structpb.Value) bool {
	_, null := v.GetKind().(*structpb.Value_NullValue)
	return null || v.GetKind() == nil
}

func floatParam(q url.Values, name string) (float64, error) {
	raw := q.Get(name)
	if raw == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number", name)
	}
	// ParseFloat accepts "NaN" and "Inf".
	if !finite(f) {
		return 0, fmt.Errorf("%s must be a finite number", name)
	}
	return f, nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func intParam(q url.Values, name string) (int, error) {
	raw := q.Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	return n, nil
}
