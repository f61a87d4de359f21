// Package adapters connects the sync queue to cloud backends.
package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/TheMichaelB/fieldsync/internal/config"
	"github.com/TheMichaelB/fieldsync/internal/events"
)

// ObjectAPI is the subset of the S3 client the remote uses.
type ObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// ItemAPI is the subset of the DynamoDB client the remote uses.
type ItemAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// AWSRemote stores photos in S3 and records in DynamoDB. Each record table
// maps to "<prefix><table>", keyed by the record's key field with the full
// row kept as a JSON "record" attribute.
type AWSRemote struct {
	objects     ObjectAPI
	items       ItemAPI
	bucket      string
	region      string
	tablePrefix string
	timeout     time.Duration
	logger      *events.Logger

	now func() time.Time
}

// NewAWSRemote creates a remote using the default AWS credential chain.
func NewAWSRemote(ctx context.Context, cfg *config.RemoteConfig, logger *events.Logger) (*AWSRemote, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("aws remote: bucket is required")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	remote := NewAWSRemoteWithClients(s3.NewFromConfig(awsCfg), dynamodb.NewFromConfig(awsCfg), cfg, logger)
	if remote.region == "" {
		remote.region = awsCfg.Region
	}
	return remote, nil
}

// NewAWSRemoteWithClients creates a remote over existing clients.
func NewAWSRemoteWithClients(objects ObjectAPI, items ItemAPI, cfg *config.RemoteConfig, logger *events.Logger) *AWSRemote {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &AWSRemote{
		objects:     objects,
		items:       items,
		bucket:      cfg.Bucket,
		region:      cfg.Region,
		tablePrefix: cfg.TablePrefix,
		timeout:     timeout,
		logger:      logger.WithField("component", "aws_remote"),
		now:         time.Now,
	}
}

// UploadBinary puts data at key path, overwriting any existing object.
func (r *AWSRemote) UploadBinary(ctx context.Context, objectPath string, data []byte, contentType string) (string, error) {
	key := strings.Trim(objectPath, "/")
	if key == "" {
		return "", fmt.Errorf("upload: path is required")
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.objects.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(r.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return "", fmt.Errorf("s3 put object: %w", err)
	}

	r.logger.WithFields(map[string]interface{}{
		"key":  key,
		"size": len(data),
	}).Debug("Uploaded object to S3")

	return key, nil
}

// PublicURL returns the virtual-hosted address of an object.
func (r *AWSRemote) PublicURL(objectPath string) (string, error) {
	key := strings.Trim(objectPath, "/")
	if key == "" {
		return "", fmt.Errorf("public url: path is required")
	}
	if r.region == "" {
		return "", fmt.Errorf("public url: region is not configured")
	}

	segments := strings.Split(key, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", r.bucket, r.region, strings.Join(segments, "/")), nil
}

// UpsertRecord puts the row, replacing any item with the same key.
func (r *AWSRemote) UpsertRecord(ctx context.Context, table, keyField string, payload map[string]interface{}) error {
	if table == "" || keyField == "" {
		return fmt.Errorf("upsert: table and key field are required")
	}
	keyValue, ok := payload[keyField]
	if !ok {
		return fmt.Errorf("upsert %s: payload has no %q value", table, keyField)
	}

	record, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s row: %w", table, err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tableName := r.tablePrefix + table
	_, err = r.items.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(tableName),
		Item: map[string]types.AttributeValue{
			keyField: &types.AttributeValueMemberS{Value: fmt.Sprint(keyValue)},
			"record": &types.AttributeValueMemberS{Value: string(record)},
			"updated_at": &types.AttributeValueMemberN{
				Value: fmt.Sprintf("%d", r.now().Unix()),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("dynamodb put %s: %w", tableName, err)
	}

	r.logger.WithFields(map[string]interface{}{
		"table": tableName,
		"key":   keyValue,
	}).Debug("Upserted record to DynamoDB")

	return nil
}
