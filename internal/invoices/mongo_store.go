package invoices

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore keeps invoices in a single collection. A unique index on
// invoiceNumber guards number assignment.
type MongoStore struct {
	coll *mongo.Collection
}

func NewMongoStore(coll *mongo.Collection) *MongoStore {
	return &MongoStore{coll: coll}
}

type invoiceDoc struct {
	ID              string               `bson:"_id"`
	Date            string               `bson:"date"`
	InvoiceNumber   int                  `bson:"invoiceNumber"`
	CustomerName    string               `bson:"customerName"`
	BillingAddress  string               `bson:"billingAddress"`
	ShippingAddress string               `bson:"shippingAddress"`
	GSTIN           string               `bson:"GSTIN"`
	Items           []itemDoc            `bson:"items"`
	BillSundrys     []sundryDoc          `bson:"billSundrys"`
	TotalAmount     primitive.Decimal128 `bson:"totalAmount"`
	CreatedAt       time.Time            `bson:"createdAt"`
	UpdatedAt       time.Time            `bson:"updatedAt"`
}

type itemDoc struct {
	ID       string               `bson:"_id"`
	ItemName string               `bson:"itemName"`
	Quantity int                  `bson:"quantity"`
	Price    primitive.Decimal128 `bson:"price"`
	Amount   primitive.Decimal128 `bson:"amount"`
}

type sundryDoc struct {
	ID             string               `bson:"_id"`
	BillSundryName string               `bson:"billSundryName"`
	Amount         primitive.Decimal128 `bson:"amount"`
}

func toDecimal128(d decimal.Decimal) (primitive.Decimal128, error) {
	v, err := primitive.ParseDecimal128(d.String())
	if err != nil {
		return primitive.Decimal128{}, fmt.Errorf("convert %s: %w", d.String(), err)
	}
	return v, nil
}

func fromDecimal128(v primitive.Decimal128) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(v.String())
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("convert %s: %w", v.String(), err)
	}
	return d, nil
}

func toDoc(inv *Invoice) (invoiceDoc, error) {
	total, err := toDecimal128(inv.TotalAmount)
	if err != nil {
		return invoiceDoc{}, err
	}
	doc := invoiceDoc{
		ID:              inv.ID,
		Date:            inv.Date,
		InvoiceNumber:   inv.InvoiceNumber,
		CustomerName:    inv.CustomerName,
		BillingAddress:  inv.BillingAddress,
		ShippingAddress: inv.ShippingAddress,
		GSTIN:           inv.GSTIN,
		Items:           make([]itemDoc, 0, len(inv.Items)),
		BillSundrys:     make([]sundryDoc, 0, len(inv.BillSundrys)),
		TotalAmount:     total,
		CreatedAt:       inv.CreatedAt,
		UpdatedAt:       inv.UpdatedAt,
	}
	for _, it := range inv.Items {
		price, err := toDecimal128(it.Price)
		if err != nil {
			return invoiceDoc{}, err
		}
		amount, err := toDecimal128(it.Amount)
		if err != nil {
			return invoiceDoc{}, err
		}
		doc.Items = append(doc.Items, itemDoc{
			ID:       it.ID,
			ItemName: it.ItemName,
			Quantity: it.Quantity,
			Price:    price,
			Amount:   amount,
		})
	}
	for _, s := range inv.BillSundrys {
		amount, err := toDecimal128(s.Amount)
		if err != nil {
			return invoiceDoc{}, err
		}
		doc.BillSundrys = append(doc.BillSundrys, sundryDoc{
			ID:             s.ID,
			BillSundryName: s.BillSundryName,
			Amount:         amount,
		})
	}
	return doc, nil
}

func (doc invoiceDoc) toInvoice() (Invoice, error) {
	total, err := fromDecimal128(doc.TotalAmount)
	if err != nil {
		return Invoice{}, err
	}
	inv := Invoice{
		ID:              doc.ID,
		Date:            doc.Date,
		InvoiceNumber:   doc.InvoiceNumber,
		CustomerName:    doc.CustomerName,
		BillingAddress:  doc.BillingAddress,
		ShippingAddress: doc.ShippingAddress,
		GSTIN:           doc.GSTIN,
		Items:           make([]Item, 0, len(doc.Items)),
		BillSundrys:     make([]Sundry, 0, len(doc.BillSundrys)),
		TotalAmount:     total,
		CreatedAt:       doc.CreatedAt.UTC(),
		UpdatedAt:       doc.UpdatedAt.UTC(),
	}
	for _, it := range doc.Items {
		price, err := fromDecimal128(it.Price)
		if err != nil {
			return Invoice{}, err
		}
		amount, err := fromDecimal128(it.Amount)
		if err != nil {
			return Invoice{}, err
		}
		inv.Items = append(inv.Items, Item{
			ID:       it.ID,
			ItemName: it.ItemName,
			Quantity: it.Quantity,
			Price:    price,
			Amount:   amount,
		})
	}
	for _, s := range doc.BillSundrys {
		amount, err := fromDecimal128(s.Amount)
		if err != nil {
			return Invoice{}, err
		}
		inv.BillSundrys = append(inv.BillSundrys, Sundry{
			ID:             s.ID,
			BillSundryName: s.BillSundryName,
			Amount:         amount,
		})
	}
	return inv, nil
}

// EnsureIndexes creates the unique invoiceNumber index. Safe to call on
// every start.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "invoiceNumber", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("invoiceNumber_unique"),
	})
	if err != nil {
		return fmt.Errorf("create invoiceNumber index: %w", err)
	}
	return nil
}

func (s *MongoStore) Create(ctx context.Context, inv *Invoice) error {
	doc, err := toDoc(inv)
	if err != nil {
		return err
	}
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrNumberTaken
		}
		return fmt.Errorf("insert invoice: %w", err)
	}
	return nil
}

func (s *MongoStore) Get(ctx context.Context, id string) (*Invoice, error) {
	var doc invoiceDoc
	err := s.coll.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find invoice: %w", err)
	}
	inv, err := doc.toInvoice()
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (s *MongoStore) List(ctx context.Context) ([]Invoice, error) {
	opts := options.Find().SetSort(bson.D{
		{Key: "createdAt", Value: -1},
		{Key: "invoiceNumber", Value: -1},
	})
	cursor, err := s.coll.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, fmt.Errorf("find invoices: %w", err)
	}
	defer cursor.Close(ctx)

	out := make([]Invoice, 0)
	for cursor.Next(ctx) {
		var doc invoiceDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode invoice: %w", err)
		}
		inv, err := doc.toInvoice()
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("iterate invoices: %w", err)
	}
	return out, nil
}

func (s *MongoStore) Replace(ctx context.Context, inv *Invoice) error {
	doc, err := toDoc(inv)
	if err != nil {
		return err
	}
	res, err := s.coll.ReplaceOne(ctx, bson.D{{Key: "_id", Value: inv.ID}}, doc)
	if err != nil {
		return fmt.Errorf("replace invoice: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes the document; the unique index entry goes with it, which
// releases the number.
func (s *MongoStore) Delete(ctx context.Context, id string) (*Invoice, error) {
	var doc invoiceDoc
	err := s.coll.FindOneAndDelete(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("delete invoice: %w", err)
	}
	inv, err := doc.toInvoice()
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (s *MongoStore) LastInvoiceNumber(ctx context.Context) (int, error) {
	opts := options.FindOne().
		SetSort(bson.D{{Key: "invoiceNumber", Value: -1}}).
		SetProjection(bson.D{{Key: "invoiceNumber", Value: 1}})

	var doc struct {
		InvoiceNumber int `bson:"invoiceNumber"`
	}
	err := s.coll.FindOne(ctx, bson.D{}, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("find last invoice number: %w", err)
	}
	return doc.InvoiceNumber, nil
}
