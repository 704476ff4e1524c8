package stream

import (
	"fmt"
	"time"

	"github.com/dgmato/PercutaneousNavigation/internal/proximity"
	"gonum.org/v1/gonum/spatial/r3"
	"google.golang.org/protobuf/types/known/structpb"
)

// ReadingToStruct encodes a reading as the Watch message:
//
//	{source, distance_mm, label, tip: [x,y,z], target: [x,y,z], at: RFC3339Nano}
func ReadingToStruct(r proximity.Reading) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]interface{}{
		"source":      r.Source,
		"distance_mm": r.Distance,
		"label":       r.Label(),
		"tip":         vecToList(r.Tip),
		"target":      vecToList(r.Target),
		"at":          r.At.UTC().Format(time.RFC3339Nano),
	})
}

// ReadingFromStruct decodes a Watch message.
func ReadingFromStruct(s *structpb.Struct) (proximity.Reading, error) {
	f := s.GetFields()
	var r proximity.Reading
	r.Source = f["source"].GetStringValue()
	dist, ok := f["distance_mm"].GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return r, fmt.Errorf("stream: message has no distance_mm")
	}
	r.Distance = dist.NumberValue

	var err error
	if r.Tip, err = listToVec(f["tip"]); err != nil {
		return r, fmt.Errorf("stream: tip: %w", err)
	}
	if r.Target, err = listToVec(f["target"]); err != nil {
		return r, fmt.Errorf("stream: target: %w", err)
	}
	if at := f["at"].GetStringValue(); at != "" {
		if r.At, err = time.Parse(time.RFC3339Nano, at); err != nil {
			return r, fmt.Errorf("stream: at: %w", err)
		}
	}
	return r, nil
}

func vecToList(v r3.Vec) []interface{} {
	return []interface{}{v.X, v.Y, v.Z}
}

func listToVec(v *structpb.Value) (r3.Vec, error) {
	vals := v.GetListValue().GetValues()
	if len(vals) != 3 {
		return r3.Vec{}, fmt.Errorf("want 3 components, got %d", len(vals))
	}
	return r3.Vec{
		X: vals[0].GetNumberValue(),
		Y: vals[1].GetNumberValue(),
		Z: vals[2].GetNumberValue(),
	}, nil
}
