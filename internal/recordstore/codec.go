package recordstore

import (
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/tendant/image-inference-pipeline/pkg/pipeline"
)

// KeyAttribute is the row key of a result record
const KeyAttribute = "image_name"

// Codec converts detection entries to and from the record store's
// type-tagged attribute encoding.
type Codec struct{}

// EncodeEntries encodes a detection list as a list attribute.
func (Codec) EncodeEntries(entries []pipeline.DetectionEntry) (types.AttributeValue, error) {
	if entries == nil {
		entries = []pipeline.DetectionEntry{}
	}
	av, err := attributevalue.Marshal(entries)
	if err != nil {
		return nil, fmt.Errorf("failed to encode detections: %w", err)
	}
	return av, nil
}

// DecodeEntries decodes a list attribute produced by EncodeEntries.
func (Codec) DecodeEntries(av types.AttributeValue) ([]pipeline.DetectionEntry, error) {
	var entries []pipeline.DetectionEntry
	if err := attributevalue.Unmarshal(av, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode detections: %w", err)
	}
	return entries, nil
}

// DecodeItem decodes a full result row. Every attribute other than the key
// is treated as one endpoint's detection list.
func (c Codec) DecodeItem(item map[string]types.AttributeValue) (*pipeline.ResultRecord, error) {
	rec := &pipeline.ResultRecord{Fields: make(map[string][]pipeline.DetectionEntry, len(item))}
	for name, av := range item {
		if name == KeyAttribute {
			if err := attributevalue.Unmarshal(av, &rec.ImageName); err != nil {
				return nil, fmt.Errorf("failed to decode %s: %w", KeyAttribute, err)
			}
			continue
		}
		entries, err := c.DecodeEntries(av)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", name, err)
		}
		rec.Fields[name] = entries
	}
	return rec, nil
}

// MarshalAttributeJSON writes an attribute in its JSON wire form, for
// example {"L":[{"M":{"objLabel":{"S":"cat"}}}]}.
func MarshalAttributeJSON(av types.AttributeValue) ([]byte, error) {
	v, err := toWire(av)
	if err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

// UnmarshalAttributeJSON parses the JSON wire form written by MarshalAttributeJSON.
func UnmarshalAttributeJSON(data []byte) (types.AttributeValue, error) {
	var raw json.RawMessage = data
	return fromWire(raw)
}

func toWire(av types.AttributeValue) (map[string]interface{}, error) {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return map[string]interface{}{"S": v.Value}, nil
	case *types.AttributeValueMemberN:
		return map[string]interface{}{"N": v.Value}, nil
	case *types.AttributeValueMemberBOOL:
		return map[string]interface{}{"BOOL": v.Value}, nil
	case *types.AttributeValueMemberNULL:
		return map[string]interface{}{"NULL": true}, nil
	case *types.AttributeValueMemberB:
		return map[string]interface{}{"B": v.Value}, nil
	case *types.AttributeValueMemberSS:
		return map[string]interface{}{"SS": v.Value}, nil
	case *types.AttributeValueMemberNS:
		return map[string]interface{}{"NS": v.Value}, nil
	case *types.AttributeValueMemberBS:
		return map[string]interface{}{"BS": v.Value}, nil
	case *types.AttributeValueMemberL:
		list := make([]interface{}, 0, len(v.Value))
		for _, item := range v.Value {
			w, err := toWire(item)
			if err != nil {
				return nil, err
			}
			list = append(list, w)
		}
		return map[string]interface{}{"L": list}, nil
	case *types.AttributeValueMemberM:
		m := make(map[string]interface{}, len(v.Value))
		for k, item := range v.Value {
			w, err := toWire(item)
			if err != nil {
				return nil, err
			}
			m[k] = w
		}
		return map[string]interface{}{"M": m}, nil
	default:
		return nil, fmt.Errorf("unsupported attribute type %T", av)
	}
}

func fromWire(data json.RawMessage) (types.AttributeValue, error) {
	var tagged map[string]json.RawMessage
	if err := json.Unmarshal(data, &tagged); err != nil {
		return nil, fmt.Errorf("invalid attribute encoding: %w", err)
	}
	if len(tagged) != 1 {
		return nil, fmt.Errorf("invalid attribute encoding: expected one type tag, got %d", len(tagged))
	}

	for tag, body := range tagged {
		switch tag {
		case "S":
			var s string
			err := json.Unmarshal(body, &s)
			return &types.AttributeValueMemberS{Value: s}, err
		case "N":
			var s string
			err := json.Unmarshal(body, &s)
			return &types.AttributeValueMemberN{Value: s}, err
		case "BOOL":
			var b bool
			err := json.Unmarshal(body, &b)
			return &types.AttributeValueMemberBOOL{Value: b}, err
		case "NULL":
			return &types.AttributeValueMemberNULL{Value: true}, nil
		case "B":
			var b []byte
			err := json.Unmarshal(body, &b)
			return &types.AttributeValueMemberB{Value: b}, err
		case "SS":
			var ss []string
			err := json.Unmarshal(body, &ss)
			return &types.AttributeValueMemberSS{Value: ss}, err
		case "NS":
			var ns []string
			err := json.Unmarshal(body, &ns)
			return &types.AttributeValueMemberNS{Value: ns}, err
		case "BS":
			var bs [][]byte
			err := json.Unmarshal(body, &bs)
			return &types.AttributeValueMemberBS{Value: bs}, err
		case "L":
			var items []json.RawMessage
			if err := json.Unmarshal(body, &items); err != nil {
				return nil, fmt.Errorf("invalid list attribute: %w", err)
			}
			list := make([]types.AttributeValue, 0, len(items))
			for _, item := range items {
				av, err := fromWire(item)
				if err != nil {
					return nil, err
				}
				list = append(list, av)
			}
			return &types.AttributeValueMemberL{Value: list}, nil
		case "M":
			var items map[string]json.RawMessage
			if err := json.Unmarshal(body, &items); err != nil {
				return nil, fmt.Errorf("invalid map attribute: %w", err)
			}
			m := make(map[string]types.AttributeValue, len(items))
			for k, item := range items {
				av, err := fromWire(item)
				if err != nil {
					return nil, err
				}
				m[k] = av
			}
			return &types.AttributeValueMemberM{Value: m}, nil
		default:
			return nil, fmt.Errorf("invalid attribute encoding: unknown type tag %q", tag)
		}
	}
	return nil, nil
}
