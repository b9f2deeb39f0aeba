package invoices

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/go-invoice-service/internal/aws"
)

// CreateTables creates the invoices and invoice-number tables.
func (s *DynamoStore) CreateTables(ctx context.Context) error {
	if err := aws.EnsureTable(ctx, s.client, s.tableName, "id", types.ScalarAttributeTypeS); err != nil {
		return err
	}
	return aws.EnsureTable(ctx, s.client, s.numbersTable, "invoice_number", types.ScalarAttributeTypeN)
}
