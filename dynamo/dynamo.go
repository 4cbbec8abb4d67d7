// Package dynamo implements [cloudlock.Store] on an Amazon DynamoDB table.
//
// The table's partition key is the string attribute "label".
// Each item also carries "holder" (S), "start_time" and "expire_time" (N, epoch milliseconds),
// and "version" (S).
package dynamo

import (
	"context"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/bobg/errors"

	"github.com/bobg/cloudlock"
)

// API is the subset of the DynamoDB client used by [Store].
type API interface {
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// Store is a cloudlock.Store backed by a DynamoDB table.
type Store struct {
	api   API
	table string
}

var _ cloudlock.Store = &Store{}

// New creates a store using the given table.
func New(api API, table string) *Store {
	return &Store{api: api, table: table}
}

// ClientOptions configures [NewClient].
type ClientOptions struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string

	// Endpoint, if set, overrides the regional endpoint (e.g. for DynamoDB Local).
	Endpoint string
}

// NewClient creates a DynamoDB client with static credentials.
func NewClient(ctx context.Context, opts ClientOptions) (*dynamodb.Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(opts.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, "")),
	)
	if err != nil {
		return nil, errors.Wrap(err, "loading AWS config")
	}

	return dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
	}), nil
}

const (
	attrLabel   = "label"
	attrHolder  = "holder"
	attrStart   = "start_time"
	attrExpire  = "expire_time"
	attrVersion = "version"

	condNotExists = "attribute_not_exists(#v)"
	condVersion   = "#v = :expected"
)

func (s *Store) Get(ctx context.Context, label string) (*cloudlock.Record, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            map[string]types.AttributeValue{attrLabel: &types.AttributeValueMemberS{Value: label}},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "reading lease record %s", label)
	}
	if len(out.Item) == 0 {
		return nil, errors.Wrapf(cloudlock.ErrNotFound, "label %s", label)
	}

	rec, err := decode(out.Item)
	if err != nil {
		return nil, errors.Wrapf(err, "decoding lease record %s", label)
	}
	rec.Label = label

	return rec, nil
}

func (s *Store) Put(ctx context.Context, rec cloudlock.Record, expected string) error {
	in := &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item: map[string]types.AttributeValue{
			attrLabel:   &types.AttributeValueMemberS{Value: rec.Label},
			attrHolder:  &types.AttributeValueMemberS{Value: rec.Holder},
			attrStart:   millis(rec.Start),
			attrExpire:  millis(rec.Expire),
			attrVersion: &types.AttributeValueMemberS{Value: rec.Version},
		},
		ExpressionAttributeNames: map[string]string{"#v": attrVersion},
	}

	if expected == cloudlock.MustNotExist {
		in.ConditionExpression = aws.String(condNotExists)
	} else {
		in.ConditionExpression = aws.String(condVersion)
		in.ExpressionAttributeValues = map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberS{Value: expected},
		}
	}

	_, err := s.api.PutItem(ctx, in)

	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return errors.Wrapf(cloudlock.ErrConflict, "label %s", rec.Label)
	}
	if err != nil {
		return errors.Wrapf(err, "writing lease record %s", rec.Label)
	}

	return nil
}

func millis(t time.Time) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(t.UnixMilli(), 10)}
}

func decode(item map[string]types.AttributeValue) (*cloudlock.Record, error) {
	var rec cloudlock.Record

	str := func(name string) (string, error) {
		v, ok := item[name].(*types.AttributeValueMemberS)
		if !ok {
			return "", errors.Newf("attribute %s missing or not a string", name)
		}
		return v.Value, nil
	}
	tm := func(name string) (time.Time, error) {
		v, ok := item[name].(*types.AttributeValueMemberN)
		if !ok {
			return time.Time{}, errors.Newf("attribute %s missing or not a number", name)
		}
		ms, err := strconv.ParseInt(v.Value, 10, 64)
		if err != nil {
			return time.Time{}, errors.Wrapf(err, "parsing attribute %s", name)
		}
		return time.UnixMilli(ms), nil
	}

	var err error
	if rec.Holder, err = str(attrHolder); err != nil {
		return nil, err
	}
	if rec.Version, err = str(attrVersion); err != nil {
		return nil, err
	}
	if rec.Start, err = tm(attrStart); err != nil {
		return nil, err
	}
	if rec.Expire, err = tm(attrExpire); err != nil {
		return nil, err
	}

	return &rec, nil
}
