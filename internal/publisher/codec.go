package publisher

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/egomotion/internal/pipeline"
)

// EstimateToStruct encodes e with the same field names as the HTTP API.
func EstimateToStruct(e pipeline.Estimate) (*structpb.Struct, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal estimate: %w", err)
	}
	s := &structpb.Struct{}
	if err := protojson.Unmarshal(b, s); err != nil {
		return nil, fmt.Errorf("failed to convert estimate: %w", err)
	}
	return s, nil
}

// EstimateFromStruct is the inverse of EstimateToStruct.
func EstimateFromStruct(s *structpb.Struct) (pipeline.Estimate, error) {
	var e pipeline.Estimate
	b, err := protojson.Marshal(s)
	if err != nil {
		return e, fmt.Errorf("failed to convert estimate: %w", err)
	}
	if err := json.Unmarshal(b, &e); err != nil {
		return e, fmt.Errorf("failed to unmarshal estimate: %w", err)
	}
	return e, nil
}
