package feed

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/tws/internal/tracking"
)

// Update is one message on the track feed.
type Update struct {
	Sequence     uint64                   `json:"sequence"`
	Time         float64                  `json:"time"`
	Extrapolated bool                     `json:"extrapolated"`
	Tracks       []tracking.TrackSnapshot `json:"tracks"`
	Metrics      tracking.Metrics         `json:"metrics"`
}

// Request selects what a StreamTracks call receives. The zero value asks
// for live tracks at the server's default interval with no history.
type Request struct {
	IntervalMS  int                 `json:"interval_ms,omitempty"`
	Extrapolate bool                `json:"extrapolate,omitempty"`
	History     bool                `json:"history,omitempty"`
	State       tracking.TrackState `json:"state,omitempty"`
	// MaxUpdates ends the stream after that many updates; 0 streams until
	// the client cancels.
	MaxUpdates int `json:"max_updates,omitempty"`
}

// toStruct converts v to a protobuf Struct through its JSON form.
func toStruct(v interface{}) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	msg := &structpb.Struct{}
	if err := protojson.Unmarshal(b, msg); err != nil {
		return nil, fmt.Errorf("convert to struct: %w", err)
	}
	return msg, nil
}

// fromStruct decodes msg into v through its JSON form.
func fromStruct(msg *structpb.Struct, v interface{}) error {
	b, err := protojson.Marshal(msg)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}
