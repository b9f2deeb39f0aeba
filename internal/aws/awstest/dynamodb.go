// Package awstest provides in-memory stand-ins for the AWS clients used by
// the service, for use in unit tests.
package awstest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoDB stores items per table in a nested map: table -> pk value -> item.
// Condition and update expressions support the forms the stores emit:
// attribute_exists(x), attribute_not_exists(x), x = :v joined by AND, and
// SET lists of x = :v.
type DynamoDB struct {
	mu       sync.Mutex
	keys     map[string]string
	tables   map[string]map[string]map[string]types.AttributeValue
	failures map[string]error

	// Calls counts invocations per operation name, e.g. "PutItem".
	Calls map[string]int
}

func NewDynamoDB() *DynamoDB {
	return &DynamoDB{
		keys:     map[string]string{},
		tables:   map[string]map[string]map[string]types.AttributeValue{},
		failures: map[string]error{},
		Calls:    map[string]int{},
	}
}

// AddTable registers a table keyed by a single hash key attribute.
func (d *DynamoDB) AddTable(name, hashKey string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.addTable(name, hashKey)
}

func (d *DynamoDB) addTable(name, hashKey string) {
	d.keys[name] = hashKey
	if _, ok := d.tables[name]; !ok {
		d.tables[name] = map[string]map[string]types.AttributeValue{}
	}
}

// FailNext makes the next call to op return err.
func (d *DynamoDB) FailNext(op string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures[op] = err
}

// Item returns a copy of the stored item whose key renders as key, or nil.
func (d *DynamoDB) Item(table, key string) map[string]types.AttributeValue {
	d.mu.Lock()
	defer d.mu.Unlock()
	item, ok := d.tables[table][key]
	if !ok {
		return nil
	}
	return copyItem(item)
}

// Len reports the number of items in table.
func (d *DynamoDB) Len(table string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.tables[table])
}

// Put stores item directly, bypassing conditions.
func (d *DynamoDB) Put(table string, item map[string]types.AttributeValue) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	pk, err := d.pk(table, item)
	if err != nil {
		return err
	}
	d.tables[table][pk] = copyItem(item)
	return nil
}

func (d *DynamoDB) begin(op string) error {
	d.Calls[op]++
	if err, ok := d.failures[op]; ok {
		delete(d.failures, op)
		return err
	}
	return nil
}

func (d *DynamoDB) pk(table string, item map[string]types.AttributeValue) (string, error) {
	keyAttr, ok := d.keys[table]
	if !ok {
		return "", &types.ResourceNotFoundException{Message: sdkaws.String("table not found: " + table)}
	}
	v, ok := item[keyAttr]
	if !ok {
		return "", fmt.Errorf("missing key attribute %q for table %s", keyAttr, table)
	}
	return keyString(v)
}

func (d *DynamoDB) PutItem(ctx context.Context, params *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.begin("PutItem"); err != nil {
		return nil, err
	}
	table := sdkaws.ToString(params.TableName)
	pk, err := d.pk(table, params.Item)
	if err != nil {
		return nil, err
	}
	ok, err := evalCondition(params.ConditionExpression, params.ExpressionAttributeNames, params.ExpressionAttributeValues, d.tables[table][pk])
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, conditionFailed()
	}
	d.tables[table][pk] = copyItem(params.Item)
	return &dyn.PutItemOutput{}, nil
}

func (d *DynamoDB) GetItem(ctx context.Context, params *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.begin("GetItem"); err != nil {
		return nil, err
	}
	table := sdkaws.ToString(params.TableName)
	pk, err := d.pk(table, params.Key)
	if err != nil {
		return nil, err
	}
	item, ok := d.tables[table][pk]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: copyItem(item)}, nil
}

func (d *DynamoDB) UpdateItem(ctx context.Context, params *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.begin("UpdateItem"); err != nil {
		return nil, err
	}
	table := sdkaws.ToString(params.TableName)
	pk, err := d.pk(table, params.Key)
	if err != nil {
		return nil, err
	}
	existing := d.tables[table][pk]
	ok, err := evalCondition(params.ConditionExpression, params.ExpressionAttributeNames, params.ExpressionAttributeValues, existing)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, conditionFailed()
	}

	item := copyItem(existing)
	if item == nil {
		item = copyItem(params.Key)
	}
	if err := applySet(params.UpdateExpression, params.ExpressionAttributeNames, params.ExpressionAttributeValues, item); err != nil {
		return nil, err
	}
	d.tables[table][pk] = item
	return &dyn.UpdateItemOutput{Attributes: copyItem(item)}, nil
}

func (d *DynamoDB) DeleteItem(ctx context.Context, params *dyn.DeleteItemInput, optFns ...func(*dyn.Options)) (*dyn.DeleteItemOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.begin("DeleteItem"); err != nil {
		return nil, err
	}
	table := sdkaws.ToString(params.TableName)
	pk, err := d.pk(table, params.Key)
	if err != nil {
		return nil, err
	}
	existing := d.tables[table][pk]
	ok, err := evalCondition(params.ConditionExpression, params.ExpressionAttributeNames, params.ExpressionAttributeValues, existing)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, conditionFailed()
	}
	delete(d.tables[table], pk)
	return &dyn.DeleteItemOutput{Attributes: existing}, nil
}

// Scan returns items in key order and honours Limit / ExclusiveStartKey so
// callers paging through results are exercised.
func (d *DynamoDB) Scan(ctx context.Context, params *dyn.ScanInput, optFns ...func(*dyn.Options)) (*dyn.ScanOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.begin("Scan"); err != nil {
		return nil, err
	}
	table := sdkaws.ToString(params.TableName)
	rows, ok := d.tables[table]
	if !ok {
		return nil, &types.ResourceNotFoundException{Message: sdkaws.String("table not found: " + table)}
	}

	keys := make([]string, 0, len(rows))
	for k := range rows {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	start := 0
	if len(params.ExclusiveStartKey) > 0 {
		after, err := d.pk(table, params.ExclusiveStartKey)
		if err != nil {
			return nil, err
		}
		start = sort.SearchStrings(keys, after)
		if start < len(keys) && keys[start] == after {
			start++
		}
	}

	out := &dyn.ScanOutput{}
	limit := len(keys)
	if params.Limit != nil && int(*params.Limit) > 0 {
		limit = int(*params.Limit)
	}
	for i := start; i < len(keys) && len(out.Items) < limit; i++ {
		out.Items = append(out.Items, copyItem(rows[keys[i]]))
		if len(out.Items) == limit && i+1 < len(keys) {
			keyAttr := d.keys[table]
			out.LastEvaluatedKey = map[string]types.AttributeValue{keyAttr: rows[keys[i]][keyAttr]}
		}
	}
	out.Count = int32(len(out.Items))
	out.ScannedCount = out.Count
	return out, nil
}

// TransactWriteItems checks every condition before applying any write.
// Failures are reported like DynamoDB does: a TransactionCanceledException
// whose CancellationReasons line up with the request items.
func (d *DynamoDB) TransactWriteItems(ctx context.Context, params *dyn.TransactWriteItemsInput, optFns ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.begin("TransactWriteItems"); err != nil {
		return nil, err
	}

	reasons := make([]types.CancellationReason, len(params.TransactItems))
	failed := false
	for i, it := range params.TransactItems {
		reasons[i] = types.CancellationReason{Code: sdkaws.String("None")}
		var (
			ok  bool
			err error
		)
		switch {
		case it.Put != nil:
			table := sdkaws.ToString(it.Put.TableName)
			pk, perr := d.pk(table, it.Put.Item)
			if perr != nil {
				return nil, perr
			}
			ok, err = evalCondition(it.Put.ConditionExpression, it.Put.ExpressionAttributeNames, it.Put.ExpressionAttributeValues, d.tables[table][pk])
		case it.Delete != nil:
			table := sdkaws.ToString(it.Delete.TableName)
			pk, perr := d.pk(table, it.Delete.Key)
			if perr != nil {
				return nil, perr
			}
			ok, err = evalCondition(it.Delete.ConditionExpression, it.Delete.ExpressionAttributeNames, it.Delete.ExpressionAttributeValues, d.tables[table][pk])
		default:
			return nil, errors.New("awstest: only Put and Delete are supported in transactions")
		}
		if err != nil {
			return nil, err
		}
		if !ok {
			failed = true
			reasons[i] = types.CancellationReason{Code: sdkaws.String("ConditionalCheckFailed")}
		}
	}
	if failed {
		return nil, &types.TransactionCanceledException{
			Message:             sdkaws.String("Transaction cancelled, please refer cancellation reasons for specific reasons"),
			CancellationReasons: reasons,
		}
	}

	for _, it := range params.TransactItems {
		switch {
		case it.Put != nil:
			table := sdkaws.ToString(it.Put.TableName)
			pk, _ := d.pk(table, it.Put.Item)
			d.tables[table][pk] = copyItem(it.Put.Item)
		case it.Delete != nil:
			table := sdkaws.ToString(it.Delete.TableName)
			pk, _ := d.pk(table, it.Delete.Key)
			delete(d.tables[table], pk)
		}
	}
	return &dyn.TransactWriteItemsOutput{}, nil
}

func (d *DynamoDB) CreateTable(ctx context.Context, params *dyn.CreateTableInput, optFns ...func(*dyn.Options)) (*dyn.CreateTableOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.begin("CreateTable"); err != nil {
		return nil, err
	}
	table := sdkaws.ToString(params.TableName)
	if _, exists := d.keys[table]; exists {
		return nil, &types.ResourceInUseException{Message: sdkaws.String("Table already exists: " + table)}
	}
	var hashKey string
	for _, ks := range params.KeySchema {
		if ks.KeyType == types.KeyTypeHash {
			hashKey = sdkaws.ToString(ks.AttributeName)
		}
	}
	if hashKey == "" {
		return nil, errors.New("awstest: CreateTable requires a HASH key")
	}
	d.addTable(table, hashKey)
	return &dyn.CreateTableOutput{
		TableDescription: &types.TableDescription{
			TableName:   params.TableName,
			TableStatus: types.TableStatusActive,
		},
	}, nil
}

func conditionFailed() error {
	return &types.ConditionalCheckFailedException{Message: sdkaws.String("The conditional request failed")}
}

func keyString(v types.AttributeValue) (string, error) {
	switch av := v.(type) {
	case *types.AttributeValueMemberS:
		return av.Value, nil
	case *types.AttributeValueMemberN:
		return av.Value, nil
	default:
		return "", fmt.Errorf("unsupported key attribute type %T", v)
	}
}

func copyItem(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	if item == nil {
		return nil
	}
	out := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		out[k] = v
	}
	return out
}

func resolveName(name string, names map[string]string) string {
	name = strings.TrimSpace(name)
	if strings.HasPrefix(name, "#") {
		if n, ok := names[name]; ok {
			return n
		}
	}
	return name
}

func evalCondition(expr *string, names map[string]string, values map[string]types.AttributeValue, item map[string]types.AttributeValue) (bool, error) {
	if expr == nil || strings.TrimSpace(*expr) == "" {
		return true, nil
	}
	for _, clause := range strings.Split(*expr, " AND ") {
		clause = strings.TrimSpace(clause)
		switch {
		case strings.HasPrefix(clause, "attribute_not_exists(") && strings.HasSuffix(clause, ")"):
			attr := resolveName(clause[len("attribute_not_exists("):len(clause)-1], names)
			if item != nil && item[attr] != nil {
				return false, nil
			}
		case strings.HasPrefix(clause, "attribute_exists(") && strings.HasSuffix(clause, ")"):
			attr := resolveName(clause[len("attribute_exists("):len(clause)-1], names)
			if item == nil || item[attr] == nil {
				return false, nil
			}
		case strings.Contains(clause, " = "):
			parts := strings.SplitN(clause, " = ", 2)
			attr := resolveName(parts[0], names)
			want, ok := values[strings.TrimSpace(parts[1])]
			if !ok {
				return false, fmt.Errorf("awstest: missing expression value %s", parts[1])
			}
			if item == nil || !equalValue(item[attr], want) {
				return false, nil
			}
		default:
			return false, fmt.Errorf("awstest: unsupported condition %q", clause)
		}
	}
	return true, nil
}

func applySet(expr *string, names map[string]string, values map[string]types.AttributeValue, item map[string]types.AttributeValue) error {
	if expr == nil {
		return nil
	}
	e := strings.TrimSpace(*expr)
	if !strings.HasPrefix(e, "SET ") {
		return fmt.Errorf("awstest: unsupported update expression %q", e)
	}
	for _, assign := range strings.Split(strings.TrimPrefix(e, "SET "), ",") {
		parts := strings.SplitN(assign, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("awstest: malformed assignment %q", assign)
		}
		v, ok := values[strings.TrimSpace(parts[1])]
		if !ok {
			return fmt.Errorf("awstest: missing expression value %s", parts[1])
		}
		item[resolveName(parts[0], names)] = v
	}
	return nil
}

func equalValue(a, b types.AttributeValue) bool {
	switch av := a.(type) {
	case *types.AttributeValueMemberS:
		bv, ok := b.(*types.AttributeValueMemberS)
		return ok && av.Value == bv.Value
	case *types.AttributeValueMemberN:
		bv, ok := b.(*types.AttributeValueMemberN)
		return ok && av.Value == bv.Value
	case *types.AttributeValueMemberBOOL:
		bv, ok := b.(*types.AttributeValueMemberBOOL)
		return ok && av.Value == bv.Value
	default:
		return false
	}
}
