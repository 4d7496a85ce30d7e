package gcp

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	admin "cloud.google.com/go/firestore/apiv1/admin"
	"cloud.google.com/go/firestore/apiv1/admin/adminpb"
	"google.golang.org/protobuf/types/known/fieldmaskpb"
)

// OpenCacheDatabase connects to the Firestore database holding the durable
// document cache. An empty databaseID selects the project's default database.
func OpenCacheDatabase(ctx context.Context, projectID, databaseID string) (*firestore.Client, error) {
	if projectID == "" {
		return nil, errors.New("PROJECT_ID is required for the Firestore document cache")
	}
	if databaseID == "" {
		databaseID = firestore.DefaultDatabaseID
	}

	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	if err != nil {
		return nil, fmt.Errorf("failed to open Firestore database %q: %w", databaseID, err)
	}
	return client, nil
}

// TTLFieldName returns the admin resource name of a collection-group field.
func TTLFieldName(projectID, databaseID, collection, field string) string {
	if databaseID == "" {
		databaseID = firestore.DefaultDatabaseID
	}
	return fmt.Sprintf("projects/%s/databases/%s/collectionGroups/%s/fields/%s", projectID, databaseID, collection, field)
}

// EnableTTLPolicy turns on Firestore's native TTL policy for field in
// collection and waits for the long-running operation to finish.
func EnableTTLPolicy(ctx context.Context, projectID, databaseID, collection, field string) error {
	client, err := admin.NewFirestoreAdminClient(ctx)
	if err != nil {
		return fmt.Errorf("failed to create Firestore admin client: %w", err)
	}
	defer client.Close()

	op, err := client.UpdateField(ctx, &adminpb.UpdateFieldRequest{
		Field: &adminpb.Field{
			Name:      TTLFieldName(projectID, databaseID, collection, field),
			TtlConfig: &adminpb.Field_TtlConfig{},
		},
		UpdateMask: &fieldmaskpb.FieldMask{Paths: []string{"ttl_config"}},
	})
	if err != nil {
		return fmt.Errorf("failed to request TTL policy on %s.%s: %w", collection, field, err)
	}
	if _, err := op.Wait(ctx); err != nil {
		return fmt.Errorf("TTL policy operation failed: %w", err)
	}
	return nil
}
