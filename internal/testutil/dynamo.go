// Package testutil provides in-memory fakes shared by package tests. It is test-only:
// import it from _test.go files, never from production code.
package testutil

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type item = map[string]types.AttributeValue

type keySchema struct {
	pk, sk string
}

type table struct {
	schema  keySchema
	indexes map[string]keySchema
	items   map[string]item
}

// Dynamo is a small in-memory DynamoDB that understands the expressions used by the stores:
// equality, <>, attribute_exists and attribute_not_exists joined with AND/OR, SET and ADD updates,
// equality key conditions on tables and indexes.
type Dynamo struct {
	mu     sync.Mutex
	tables map[string]*table
	fail   map[string]error
	calls  map[string]int
}

// NewDynamo returns an empty fake.
func NewDynamo() *Dynamo {
	return &Dynamo{
		tables: map[string]*table{},
		fail:   map[string]error{},
		calls:  map[string]int{},
	}
}

// AddTable registers a table with a partition key and optional sort key.
func (d *Dynamo) AddTable(name, pk, sk string) *Dynamo {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tables[name] = &table{schema: keySchema{pk: pk, sk: sk}, indexes: map[string]keySchema{}, items: map[string]item{}}
	return d
}

// AddIndex registers a global secondary index on an existing table.
func (d *Dynamo) AddIndex(tableName, index, pk, sk string) *Dynamo {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tables[tableName].indexes[index] = keySchema{pk: pk, sk: sk}
	return d
}

// FailNext makes the next call of op (PutItem, Query, ...) return err.
func (d *Dynamo) FailNext(op string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail[op] = err
}

// Calls reports how many times op was invoked.
func (d *Dynamo) Calls(op string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[op]
}

// Items returns a copy of all items of a table.
func (d *Dynamo) Items(tableName string) []map[string]types.AttributeValue {
	d.mu.Lock()
	defer d.mu.Unlock()
	t := d.tables[tableName]
	if t == nil {
		return nil
	}
	out := make([]map[string]types.AttributeValue, 0, len(t.items))
	for _, it := range t.items {
		out = append(out, copyItem(it))
	}
	return out
}

// Seed writes an item without conditions.
func (d *Dynamo) Seed(tableName string, it map[string]types.AttributeValue) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t := d.mustTable(tableName)
	t.items[t.key(it)] = copyItem(it)
}

func (d *Dynamo) enter(op string) error {
	d.calls[op]++
	if err, ok := d.fail[op]; ok {
		delete(d.fail, op)
		return err
	}
	return nil
}

func (d *Dynamo) mustTable(name string) *table {
	t, ok := d.tables[name]
	if !ok {
		panic(fmt.Sprintf("testutil: table %q not registered", name))
	}
	return t
}

func (t *table) key(it item) string {
	k := scalar(it[t.schema.pk])
	if t.schema.sk != "" {
		k += "\x00" + scalar(it[t.schema.sk])
	}
	return k
}

func (d *Dynamo) PutItem(ctx context.Context, in *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter("PutItem"); err != nil {
		return nil, err
	}
	t := d.mustTable(sdkaws.ToString(in.TableName))
	k := t.key(in.Item)
	if in.ConditionExpression != nil {
		ok, err := evalCondition(*in.ConditionExpression, t.items[k], in.ExpressionAttributeNames, in.ExpressionAttributeValues)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, &types.ConditionalCheckFailedException{Message: sdkaws.String("conditional check failed")}
		}
	}
	t.items[k] = copyItem(in.Item)
	return &dyn.PutItemOutput{}, nil
}

func (d *Dynamo) GetItem(ctx context.Context, in *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter("GetItem"); err != nil {
		return nil, err
	}
	t := d.mustTable(sdkaws.ToString(in.TableName))
	it, ok := t.items[t.key(in.Key)]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: copyItem(it)}, nil
}

func (d *Dynamo) DeleteItem(ctx context.Context, in *dyn.DeleteItemInput, optFns ...func(*dyn.Options)) (*dyn.DeleteItemOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter("DeleteItem"); err != nil {
		return nil, err
	}
	t := d.mustTable(sdkaws.ToString(in.TableName))
	k := t.key(in.Key)
	if in.ConditionExpression != nil {
		ok, err := evalCondition(*in.ConditionExpression, t.items[k], in.ExpressionAttributeNames, in.ExpressionAttributeValues)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, &types.ConditionalCheckFailedException{Message: sdkaws.String("conditional check failed")}
		}
	}
	delete(t.items, k)
	return &dyn.DeleteItemOutput{}, nil
}

func (d *Dynamo) UpdateItem(ctx context.Context, in *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter("UpdateItem"); err != nil {
		return nil, err
	}
	t := d.mustTable(sdkaws.ToString(in.TableName))
	updated, err := d.applyUpdate(t, in.Key, in.ConditionExpression, in.UpdateExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	return &dyn.UpdateItemOutput{Attributes: copyItem(updated)}, nil
}

func (d *Dynamo) applyUpdate(t *table, key item, cond, update *string, names map[string]string, values map[string]types.AttributeValue) (item, error) {
	k := t.key(key)
	current := t.items[k]
	if cond != nil {
		ok, err := evalCondition(*cond, current, names, values)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, &types.ConditionalCheckFailedException{Message: sdkaws.String("conditional check failed")}
		}
	}
	next := copyItem(current)
	if next == nil {
		next = copyItem(key)
	}
	if update != nil {
		if err := applyUpdateExpression(*update, next, names, values); err != nil {
			return nil, err
		}
	}
	t.items[k] = next
	return next, nil
}

func (d *Dynamo) Query(ctx context.Context, in *dyn.QueryInput, optFns ...func(*dyn.Options)) (*dyn.QueryOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter("Query"); err != nil {
		return nil, err
	}
	t := d.mustTable(sdkaws.ToString(in.TableName))
	schema := t.schema
	if in.IndexName != nil {
		s, ok := t.indexes[*in.IndexName]
		if !ok {
			return nil, fmt.Errorf("testutil: index %q not registered", *in.IndexName)
		}
		schema = s
	}
	if in.KeyConditionExpression == nil {
		return nil, errors.New("testutil: key condition required")
	}
	var matched []item
	for _, it := range t.items {
		ok, err := evalCondition(*in.KeyConditionExpression, it, in.ExpressionAttributeNames, in.ExpressionAttributeValues)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if in.FilterExpression != nil {
			ok, err = evalCondition(*in.FilterExpression, it, in.ExpressionAttributeNames, in.ExpressionAttributeValues)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		matched = append(matched, copyItem(it))
	}
	if schema.sk != "" {
		sort.SliceStable(matched, func(i, j int) bool {
			return less(matched[i][schema.sk], matched[j][schema.sk])
		})
	}
	if in.ScanIndexForward != nil && !*in.ScanIndexForward {
		for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
			matched[i], matched[j] = matched[j], matched[i]
		}
	}
	if in.Limit != nil && int(*in.Limit) < len(matched) {
		matched = matched[:*in.Limit]
	}
	return &dyn.QueryOutput{Items: matched, Count: int32(len(matched))}, nil
}

func (d *Dynamo) Scan(ctx context.Context, in *dyn.ScanInput, optFns ...func(*dyn.Options)) (*dyn.ScanOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter("Scan"); err != nil {
		return nil, err
	}
	t := d.mustTable(sdkaws.ToString(in.TableName))
	var matched []item
	for _, it := range t.items {
		if in.FilterExpression != nil {
			ok, err := evalCondition(*in.FilterExpression, it, in.ExpressionAttributeNames, in.ExpressionAttributeValues)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		matched = append(matched, copyItem(it))
	}
	return &dyn.ScanOutput{Items: matched, Count: int32(len(matched))}, nil
}

func (d *Dynamo) TransactWriteItems(ctx context.Context, in *dyn.TransactWriteItemsInput, optFns ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter("TransactWriteItems"); err != nil {
		return nil, err
	}

	reasons := make([]types.CancellationReason, len(in.TransactItems))
	failed := false
	for i, ti := range in.TransactItems {
		reasons[i] = types.CancellationReason{Code: sdkaws.String("None")}
		var (
			tableName string
			current   item
			cond      *string
			names     map[string]string
			values    map[string]types.AttributeValue
		)
		switch {
		case ti.Put != nil:
			tableName, cond, names, values = sdkaws.ToString(ti.Put.TableName), ti.Put.ConditionExpression, ti.Put.ExpressionAttributeNames, ti.Put.ExpressionAttributeValues
			t := d.mustTable(tableName)
			current = t.items[t.key(ti.Put.Item)]
		case ti.Update != nil:
			tableName, cond, names, values = sdkaws.ToString(ti.Update.TableName), ti.Update.ConditionExpression, ti.Update.ExpressionAttributeNames, ti.Update.ExpressionAttributeValues
			t := d.mustTable(tableName)
			current = t.items[t.key(ti.Update.Key)]
		case ti.ConditionCheck != nil:
			tableName, cond, names, values = sdkaws.ToString(ti.ConditionCheck.TableName), ti.ConditionCheck.ConditionExpression, ti.ConditionCheck.ExpressionAttributeNames, ti.ConditionCheck.ExpressionAttributeValues
			t := d.mustTable(tableName)
			current = t.items[t.key(ti.ConditionCheck.Key)]
		case ti.Delete != nil:
			tableName, cond, names, values = sdkaws.ToString(ti.Delete.TableName), ti.Delete.ConditionExpression, ti.Delete.ExpressionAttributeNames, ti.Delete.ExpressionAttributeValues
			t := d.mustTable(tableName)
			current = t.items[t.key(ti.Delete.Key)]
		}
		if cond == nil {
			continue
		}
		ok, err := evalCondition(*cond, current, names, values)
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
			Message:             sdkaws.String("transaction cancelled"),
			CancellationReasons: reasons,
		}
	}

	for _, ti := range in.TransactItems {
		switch {
		case ti.Put != nil:
			t := d.mustTable(sdkaws.ToString(ti.Put.TableName))
			t.items[t.key(ti.Put.Item)] = copyItem(ti.Put.Item)
		case ti.Update != nil:
			t := d.mustTable(sdkaws.ToString(ti.Update.TableName))
			if _, err := d.applyUpdate(t, ti.Update.Key, nil, ti.Update.UpdateExpression, ti.Update.ExpressionAttributeNames, ti.Update.ExpressionAttributeValues); err != nil {
				return nil, err
			}
		case ti.Delete != nil:
			t := d.mustTable(sdkaws.ToString(ti.Delete.TableName))
			delete(t.items, t.key(ti.Delete.Key))
		}
	}
	return &dyn.TransactWriteItemsOutput{}, nil
}

var (
	reNotExists = regexp.MustCompile(`^attribute_not_exists\(\s*([#\w.]+)\s*\)$`)
	reExists    = regexp.MustCompile(`^attribute_exists\(\s*([#\w.]+)\s*\)$`)
	reCompare   = regexp.MustCompile(`^([#\w.]+)\s*(=|<>)\s*(:\w+)$`)
	reClause    = regexp.MustCompile(`\b(SET|ADD|REMOVE)\s`)
)

func evalCondition(expr string, it item, names map[string]string, values map[string]types.AttributeValue) (bool, error) {
	for _, alt := range strings.Split(expr, " OR ") {
		all := true
		for _, term := range strings.Split(alt, " AND ") {
			ok, err := evalTerm(strings.Trim(strings.TrimSpace(term), "()"), it, names, values)
			if err != nil {
				return false, err
			}
			if !ok {
				all = false
				break
			}
		}
		if all {
			return true, nil
		}
	}
	return false, nil
}

func evalTerm(term string, it item, names map[string]string, values map[string]types.AttributeValue) (bool, error) {
	// restore the parentheses stripped from function calls
	if strings.HasPrefix(term, "attribute_") && !strings.HasSuffix(term, ")") {
		term += ")"
	}
	if m := reNotExists.FindStringSubmatch(term); m != nil {
		_, ok := lookup(it, resolve(m[1], names))
		return !ok, nil
	}
	if m := reExists.FindStringSubmatch(term); m != nil {
		_, ok := lookup(it, resolve(m[1], names))
		return ok, nil
	}
	if m := reCompare.FindStringSubmatch(term); m != nil {
		want, ok := values[m[3]]
		if !ok {
			return false, fmt.Errorf("testutil: missing value %s", m[3])
		}
		got, present := lookup(it, resolve(m[1], names))
		equal := present && scalar(got) == scalar(want)
		if m[2] == "=" {
			return equal, nil
		}
		return !equal, nil
	}
	return false, fmt.Errorf("testutil: unsupported expression term %q", term)
}

func resolve(path string, names map[string]string) string {
	parts := strings.Split(path, ".")
	for i, p := range parts {
		if strings.HasPrefix(p, "#") {
			if n, ok := names[p]; ok {
				parts[i] = n
			}
		}
	}
	return strings.Join(parts, ".")
}

func lookup(it item, path string) (types.AttributeValue, bool) {
	if it == nil {
		return nil, false
	}
	parts := strings.Split(path, ".")
	var cur types.AttributeValue = &types.AttributeValueMemberM{Value: it}
	for _, p := range parts {
		m, ok := cur.(*types.AttributeValueMemberM)
		if !ok {
			return nil, false
		}
		cur, ok = m.Value[p]
		if !ok {
			return nil, false
		}
	}
	if _, isNull := cur.(*types.AttributeValueMemberNULL); isNull {
		return nil, false
	}
	return cur, true
}

func applyUpdateExpression(expr string, it item, names map[string]string, values map[string]types.AttributeValue) error {
	locs := reClause.FindAllStringSubmatchIndex(expr, -1)
	if len(locs) == 0 {
		return fmt.Errorf("testutil: unsupported update %q", expr)
	}
	for i, loc := range locs {
		end := len(expr)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		action := expr[loc[2]:loc[3]]
		body := strings.TrimSpace(expr[loc[1]:end])
		for _, assignment := range strings.Split(body, ",") {
			assignment = strings.TrimSpace(assignment)
			if assignment == "" {
				continue
			}
			switch action {
			case "SET":
				parts := strings.SplitN(assignment, "=", 2)
				if len(parts) != 2 {
					return fmt.Errorf("testutil: bad SET %q", assignment)
				}
				name := resolve(strings.TrimSpace(parts[0]), names)
				v, ok := values[strings.TrimSpace(parts[1])]
				if !ok {
					return fmt.Errorf("testutil: missing value in %q", assignment)
				}
				it[name] = v
			case "ADD":
				fields := strings.Fields(assignment)
				if len(fields) != 2 {
					return fmt.Errorf("testutil: bad ADD %q", assignment)
				}
				name := resolve(fields[0], names)
				v := values[fields[1]]
				switch add := v.(type) {
				case *types.AttributeValueMemberSS:
					existing, _ := it[name].(*types.AttributeValueMemberSS)
					set := map[string]bool{}
					var merged []string
					if existing != nil {
						for _, s := range existing.Value {
							set[s] = true
							merged = append(merged, s)
						}
					}
					for _, s := range add.Value {
						if !set[s] {
							merged = append(merged, s)
						}
					}
					it[name] = &types.AttributeValueMemberSS{Value: merged}
				case *types.AttributeValueMemberN:
					cur := 0.0
					if existing, ok := it[name].(*types.AttributeValueMemberN); ok {
						cur, _ = strconv.ParseFloat(existing.Value, 64)
					}
					inc, _ := strconv.ParseFloat(add.Value, 64)
					it[name] = &types.AttributeValueMemberN{Value: strconv.FormatFloat(cur+inc, 'f', -1, 64)}
				default:
					return fmt.Errorf("testutil: unsupported ADD value %T", v)
				}
			case "REMOVE":
				delete(it, resolve(assignment, names))
			}
		}
	}
	return nil
}

func scalar(v types.AttributeValue) string {
	switch x := v.(type) {
	case *types.AttributeValueMemberS:
		return x.Value
	case *types.AttributeValueMemberN:
		return x.Value
	case *types.AttributeValueMemberBOOL:
		return strconv.FormatBool(x.Value)
	case nil:
		return ""
	}
	return fmt.Sprintf("%v", v)
}

func less(a, b types.AttributeValue) bool {
	an, aok := a.(*types.AttributeValueMemberN)
	bn, bok := b.(*types.AttributeValueMemberN)
	if aok && bok {
		af, _ := strconv.ParseFloat(an.Value, 64)
		bf, _ := strconv.ParseFloat(bn.Value, 64)
		return af < bf
	}
	return scalar(a) < scalar(b)
}

func copyItem(it item) item {
	if it == nil {
		return nil
	}
	out := make(item, len(it))
	for k, v := range it {
		out[k] = v
	}
	return out
}
