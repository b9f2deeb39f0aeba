package invoices

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"

	"github.com/imrishuroy/go-invoice-service/internal/aws"
)

// DynamoStore keeps invoices in one table keyed by id and a claim per
// invoice number in a second table keyed by invoice_number. Writing both in
// one transaction makes numbers unique.
type DynamoStore struct {
	client       aws.DynamoDBAPI
	tableName    string
	numbersTable string
}

// NewDynamoStore creates a DynamoStore over the two tables.
func NewDynamoStore(client aws.DynamoDBAPI, tableName, numbersTable string) *DynamoStore {
	return &DynamoStore{
		client:       client,
		tableName:    tableName,
		numbersTable: numbersTable,
	}
}

// invoiceRecord is the item shape in the invoices table.
type invoiceRecord struct {
	ID              string         `dynamodbav:"id"` // PK
	Date            string         `dynamodbav:"date"`
	InvoiceNumber   int            `dynamodbav:"invoice_number"`
	CustomerName    string         `dynamodbav:"customer_name"`
	BillingAddress  string         `dynamodbav:"billing_address"`
	ShippingAddress string         `dynamodbav:"shipping_address"`
	GSTIN           string         `dynamodbav:"gstin"`
	Items           []itemRecord   `dynamodbav:"items"`
	BillSundrys     []sundryRecord `dynamodbav:"bill_sundrys"`
	TotalAmount     number         `dynamodbav:"total_amount"`
	CreatedAt       time.Time      `dynamodbav:"created_at"`
	UpdatedAt       time.Time      `dynamodbav:"updated_at"`
}

type itemRecord struct {
	ID       string `dynamodbav:"id"`
	ItemName string `dynamodbav:"item_name"`
	Quantity int    `dynamodbav:"quantity"`
	Price    number `dynamodbav:"price"`
	Amount   number `dynamodbav:"amount"`
}

type sundryRecord struct {
	ID             string `dynamodbav:"id"`
	BillSundryName string `dynamodbav:"bill_sundry_name"`
	Amount         number `dynamodbav:"amount"`
}

// number stores a decimal as a DynamoDB N attribute without going through float64.
type number struct {
	decimal.Decimal
}

func (n number) MarshalDynamoDBAttributeValue() (types.AttributeValue, error) {
	return &types.AttributeValueMemberN{Value: n.Decimal.String()}, nil
}

func (n *number) UnmarshalDynamoDBAttributeValue(av types.AttributeValue) error {
	v, ok := av.(*types.AttributeValueMemberN)
	if !ok {
		return fmt.Errorf("expected number attribute, got %T", av)
	}
	d, err := decimal.NewFromString(v.Value)
	if err != nil {
		return fmt.Errorf("parse number %q: %w", v.Value, err)
	}
	n.Decimal = d
	return nil
}

func toRecord(inv *Invoice) invoiceRecord {
	rec := invoiceRecord{
		ID:              inv.ID,
		Date:            inv.Date,
		InvoiceNumber:   inv.InvoiceNumber,
		CustomerName:    inv.CustomerName,
		BillingAddress:  inv.BillingAddress,
		ShippingAddress: inv.ShippingAddress,
		GSTIN:           inv.GSTIN,
		Items:           make([]itemRecord, 0, len(inv.Items)),
		BillSundrys:     make([]sundryRecord, 0, len(inv.BillSundrys)),
		TotalAmount:     number{inv.TotalAmount},
		CreatedAt:       inv.CreatedAt,
		UpdatedAt:       inv.UpdatedAt,
	}
	for _, it := range inv.Items {
		rec.Items = append(rec.Items, itemRecord{
			ID:       it.ID,
			ItemName: it.ItemName,
			Quantity: it.Quantity,
			Price:    number{it.Price},
			Amount:   number{it.Amount},
		})
	}
	for _, s := range inv.BillSundrys {
		rec.BillSundrys = append(rec.BillSundrys, sundryRecord{
			ID:             s.ID,
			BillSundryName: s.BillSundryName,
			Amount:         number{s.Amount},
		})
	}
	return rec
}

func (rec invoiceRecord) toInvoice() Invoice {
	inv := Invoice{
		ID:              rec.ID,
		Date:            rec.Date,
		InvoiceNumber:   rec.InvoiceNumber,
		CustomerName:    rec.CustomerName,
		BillingAddress:  rec.BillingAddress,
		ShippingAddress: rec.ShippingAddress,
		GSTIN:           rec.GSTIN,
		Items:           make([]Item, 0, len(rec.Items)),
		BillSundrys:     make([]Sundry, 0, len(rec.BillSundrys)),
		TotalAmount:     rec.TotalAmount.Decimal,
		CreatedAt:       rec.CreatedAt,
		UpdatedAt:       rec.UpdatedAt,
	}
	for _, it := range rec.Items {
		inv.Items = append(inv.Items, Item{
			ID:       it.ID,
			ItemName: it.ItemName,
			Quantity: it.Quantity,
			Price:    it.Price.Decimal,
			Amount:   it.Amount.Decimal,
		})
	}
	for _, s := range rec.BillSundrys {
		inv.BillSundrys = append(inv.BillSundrys, Sundry{
			ID:             s.ID,
			BillSundryName: s.BillSundryName,
			Amount:         s.Amount.Decimal,
		})
	}
	return inv
}

func (s *DynamoStore) idKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"id": &types.AttributeValueMemberS{Value: id},
	}
}

func numberKey(n int) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"invoice_number": &types.AttributeValueMemberN{Value: strconv.Itoa(n)},
	}
}

// Create writes the invoice and its number claim in one transaction.
// Returns ErrNumberTaken if the claim already exists.
func (s *DynamoStore) Create(ctx context.Context, inv *Invoice) error {
	item, err := attributevalue.MarshalMap(toRecord(inv))
	if err != nil {
		return fmt.Errorf("marshal invoice: %w", err)
	}
	claim := numberKey(inv.InvoiceNumber)
	claim["invoice_id"] = &types.AttributeValueMemberS{Value: inv.ID}

	input := &dyn.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           sdkaws.String(s.numbersTable),
					Item:                claim,
					ConditionExpression: sdkaws.String("attribute_not_exists(invoice_number)"),
				},
			},
			{
				Put: &types.Put{
					TableName:           sdkaws.String(s.tableName),
					Item:                item,
					ConditionExpression: sdkaws.String("attribute_not_exists(id)"),
				},
			},
		},
	}

	_, err = s.client.TransactWriteItems(ctx, input)
	if err != nil {
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) && claimConflict(tce) {
			return ErrNumberTaken
		}
		return fmt.Errorf("transact write: %w", err)
	}
	return nil
}

// claimConflict reports whether the number claim (first transact item) is
// what cancelled the transaction.
func claimConflict(tce *types.TransactionCanceledException) bool {
	if len(tce.CancellationReasons) == 0 {
		return true
	}
	return sdkaws.ToString(tce.CancellationReasons[0].Code) == "ConditionalCheckFailed"
}

// Get fetches an invoice by id. Returns (nil, nil) if not found.
func (s *DynamoStore) Get(ctx context.Context, id string) (*Invoice, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      sdkaws.String(s.tableName),
		Key:            s.idKey(id),
		ConsistentRead: sdkaws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var rec invoiceRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal invoice: %w", err)
	}
	inv := rec.toInvoice()
	return &inv, nil
}

// List scans the table and orders the result newest first.
func (s *DynamoStore) List(ctx context.Context) ([]Invoice, error) {
	p := dyn.NewScanPaginator(s.client, &dyn.ScanInput{
		TableName:      sdkaws.String(s.tableName),
		ConsistentRead: sdkaws.Bool(true),
	})

	out := make([]Invoice, 0)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("scan invoices: %w", err)
		}
		var recs []invoiceRecord
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &recs); err != nil {
			return nil, fmt.Errorf("unmarshal invoices: %w", err)
		}
		for _, rec := range recs {
			out = append(out, rec.toInvoice())
		}
	}
	sortNewestFirst(out)
	return out, nil
}

// Replace overwrites an existing invoice. The number claim is untouched
// because the number never changes after creation.
func (s *DynamoStore) Replace(ctx context.Context, inv *Invoice) error {
	item, err := attributevalue.MarshalMap(toRecord(inv))
	if err != nil {
		return fmt.Errorf("marshal invoice: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           sdkaws.String(s.tableName),
		Item:                item,
		ConditionExpression: sdkaws.String("attribute_exists(id)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrNotFound
		}
		return fmt.Errorf("put item: %w", err)
	}
	return nil
}

// Delete removes the invoice and its number claim together.
func (s *DynamoStore) Delete(ctx context.Context, id string) (*Invoice, error) {
	inv, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, ErrNotFound
	}

	input := &dyn.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Delete: &types.Delete{
					TableName:           sdkaws.String(s.tableName),
					Key:                 s.idKey(id),
					ConditionExpression: sdkaws.String("attribute_exists(id)"),
				},
			},
			{
				Delete: &types.Delete{
					TableName:           sdkaws.String(s.numbersTable),
					Key:                 numberKey(inv.InvoiceNumber),
					ConditionExpression: sdkaws.String("invoice_id = :id"),
					ExpressionAttributeValues: map[string]types.AttributeValue{
						":id": &types.AttributeValueMemberS{Value: id},
					},
				},
			},
		},
	}
	if _, err := s.client.TransactWriteItems(ctx, input); err != nil {
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) {
			// deleted concurrently
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("transact delete: %w", err)
	}
	return inv, nil
}

// LastInvoiceNumber scans the number claims for the highest value.
func (s *DynamoStore) LastInvoiceNumber(ctx context.Context) (int, error) {
	p := dyn.NewScanPaginator(s.client, &dyn.ScanInput{
		TableName:            sdkaws.String(s.numbersTable),
		ProjectionExpression: sdkaws.String("invoice_number"),
		ConsistentRead:       sdkaws.Bool(true),
	})

	last := 0
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return 0, fmt.Errorf("scan invoice numbers: %w", err)
		}
		for _, item := range page.Items {
			var claim struct {
				InvoiceNumber int `dynamodbav:"invoice_number"`
			}
			if err := attributevalue.UnmarshalMap(item, &claim); err != nil {
				return 0, fmt.Errorf("unmarshal invoice number: %w", err)
			}
			if claim.InvoiceNumber > last {
				last = claim.InvoiceNumber
			}
		}
	}
	return last, nil
}

func sortNewestFirst(invs []Invoice) {
	sort.SliceStable(invs, func(i, j int) bool {
		if !invs[i].CreatedAt.Equal(invs[j].CreatedAt) {
			return invs[i].CreatedAt.After(invs[j].CreatedAt)
		}
		return invs[i].InvoiceNumber > invs[j].InvoiceNumber
	})
}
