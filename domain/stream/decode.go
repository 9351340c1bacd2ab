package stream

import (
	"fmt"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/cockroachdb/apd/v3"

	apperrors "real-backend/pkg/errors"
)

// FromEventImage strips the type-tagged envelope from a stream image.
func FromEventImage(image map[string]events.DynamoDBAttributeValue) (Item, error) {
	if len(image) == 0 {
		return Item{}, nil
	}
	out := make(Item, len(image))
	for name, av := range image {
		v, err := fromEventValue(av)
		if err != nil {
			return nil, apperrors.Wrapf(err, "attribute %q", name)
		}
		out[name] = v
	}
	return out, nil
}

func fromEventValue(av events.DynamoDBAttributeValue) (any, error) {
	switch av.DataType() {
	case events.DataTypeString:
		return av.String(), nil
	case events.DataTypeNumber:
		return parseNumber(av.Number())
	case events.DataTypeBoolean:
		return av.Boolean(), nil
	case events.DataTypeNull:
		return nil, nil
	case events.DataTypeBinary:
		return av.Binary(), nil
	case events.DataTypeStringSet:
		return av.StringSet(), nil
	case events.DataTypeNumberSet:
		return parseNumbers(av.NumberSet())
	case events.DataTypeBinarySet:
		return av.BinarySet(), nil
	case events.DataTypeList:
		list := av.List()
		out := make([]any, len(list))
		for i, e := range list {
			v, err := fromEventValue(e)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case events.DataTypeMap:
		m := av.Map()
		out := make(map[string]any, len(m))
		for k, e := range m {
			v, err := fromEventValue(e)
			if err != nil {
				return nil, err
			}
			out[k] = v
		}
		return out, nil
	}
	return nil, apperrors.NewDataIntegrityError(fmt.Sprintf("unsupported attribute type %d", av.DataType()), nil)
}

// FromAttributeValues strips the SDK envelope from an item read from the table.
func FromAttributeValues(image map[string]types.AttributeValue) (Item, error) {
	if len(image) == 0 {
		return Item{}, nil
	}
	out := make(Item, len(image))
	for name, av := range image {
		v, err := fromAttributeValue(av)
		if err != nil {
			return nil, apperrors.Wrapf(err, "attribute %q", name)
		}
		out[name] = v
	}
	return out, nil
}

func fromAttributeValue(av types.AttributeValue) (any, error) {
	switch tv := av.(type) {
	case *types.AttributeValueMemberS:
		return tv.Value, nil
	case *types.AttributeValueMemberN:
		return parseNumber(tv.Value)
	case *types.AttributeValueMemberBOOL:
		return tv.Value, nil
	case *types.AttributeValueMemberNULL:
		return nil, nil
	case *types.AttributeValueMemberB:
		return tv.Value, nil
	case *types.AttributeValueMemberSS:
		return tv.Value, nil
	case *types.AttributeValueMemberNS:
		return parseNumbers(tv.Value)
	case *types.AttributeValueMemberBS:
		return tv.Value, nil
	case *types.AttributeValueMemberL:
		out := make([]any, len(tv.Value))
		for i, e := range tv.Value {
			v, err := fromAttributeValue(e)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case *types.AttributeValueMemberM:
		out := make(map[string]any, len(tv.Value))
		for k, e := range tv.Value {
			v, err := fromAttributeValue(e)
			if err != nil {
				return nil, err
			}
			out[k] = v
		}
		return out, nil
	}
	return nil, apperrors.NewDataIntegrityError(fmt.Sprintf("unsupported attribute value %T", av), nil)
}

func parseNumber(s string) (*apd.Decimal, error) {
	d, _, err := apd.NewFromString(s)
	if err != nil {
		return nil, apperrors.NewDataIntegrityError(fmt.Sprintf("malformed number %q", s), err)
	}
	return d, nil
}

func parseNumbers(ss []string) ([]*apd.Decimal, error) {
	out := make([]*apd.Decimal, len(ss))
	for i, s := range ss {
		d, err := parseNumber(s)
		if err != nil {
			return nil, err
		}
		out[i] = d
	}
	return out, nil
}
