package validator

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Document operations the executor knows how to run.
const (
	OpFind      = "find"
	OpAggregate = "aggregate"
	OpCount     = "count"
	OpDistinct  = "distinct"
)

// DocumentQuery is a parsed document-store query. Filter, projection, sort and
// pipeline stages keep their key order.
type DocumentQuery struct {
	Collection string
	Operation  string
	Filter     bson.D
	Projection bson.D
	Sort       bson.D
	Pipeline   []bson.D
	Field      string
	Limit      int64
	Skip       int64

	writeField bool
}

// ErrMalformedDocument is returned when query text is not a JSON object of the
// expected shape.
var ErrMalformedDocument = errors.New("malformed document query")

var readOperations = map[string]string{
	"find":           OpFind,
	"findone":        OpFind,
	"aggregate":      OpAggregate,
	"count":          OpCount,
	"countdocuments": OpCount,
	"distinct":       OpDistinct,
}

var writeOperations = map[string]bool{
	"insert": true, "insertone": true, "insertmany": true,
	"update": true, "updateone": true, "updatemany": true, "replaceone": true,
	"delete": true, "deleteone": true, "deletemany": true, "remove": true,
	"findoneandupdate": true, "findoneandreplace": true, "findoneanddelete": true,
	"findandmodify": true, "bulkwrite": true, "drop": true, "dropdatabase": true,
	"dropindex": true, "dropindexes": true, "createindex": true, "createindexes": true,
	"createcollection": true, "renamecollection": true, "rename": true,
}

// writeKeys are top-level fields that only make sense for a write.
var writeKeys = map[string]bool{
	"update": true, "updates": true, "replacement": true, "document": true,
	"documents": true, "upsert": true, "multi": true,
}

// ignoredKeys may accompany generated queries and carry no behavior.
var ignoredKeys = map[string]bool{
	"explanation": true, "description": true, "note": true, "notes": true,
}

var codeOperators = map[string]bool{
	"$where": true, "$function": true, "$accumulator": true, "$eval": true, "$code": true,
}

var writeOperators = map[string]bool{
	"$out": true, "$merge": true,
	"$inc": true, "$mul": true, "$rename": true, "$setOnInsert": true,
	"$currentDate": true, "$pop": true, "$pull": true, "$pullAll": true, "$bit": true,
}

// updateOperators are write operators in a filter but legitimate aggregation
// stages or accumulators inside a pipeline.
var updateOperators = map[string]bool{
	"$set": true, "$unset": true, "$push": true, "$addToSet": true,
}

var adminStages = map[string]bool{
	"$currentOp": true, "$listSessions": true, "$listLocalSessions": true,
	"$collStats": true, "$indexStats": true, "$planCacheStats": true,
	"$listSearchIndexes": true,
}

var queryOperators = setOf(
	"$eq", "$ne", "$gt", "$gte", "$lt", "$lte", "$in", "$nin",
	"$and", "$or", "$nor", "$not", "$exists", "$type", "$regex", "$options",
	"$elemMatch", "$size", "$all", "$mod", "$text", "$search", "$language",
	"$caseSensitive", "$diacriticSensitive", "$expr",
	"$geoWithin", "$geoIntersects", "$near", "$nearSphere", "$geometry",
	"$maxDistance", "$minDistance", "$box", "$center", "$centerSphere", "$polygon",
)

var pipelineStages = setOf(
	"$match", "$project", "$group", "$sort", "$limit", "$skip", "$unwind",
	"$lookup", "$count", "$addFields", "$set", "$unset", "$replaceRoot",
	"$replaceWith", "$facet", "$bucket", "$bucketAuto", "$sortByCount",
	"$sample", "$geoNear", "$graphLookup",
)

var expressionOperators = setOf(
	"$sum", "$avg", "$min", "$max", "$first", "$last", "$push", "$addToSet",
	"$count", "$add", "$subtract", "$multiply", "$divide", "$round", "$abs",
	"$ceil", "$floor", "$concat", "$toLower", "$toUpper", "$substr", "$substrCP",
	"$strLenCP", "$split", "$trim", "$ltrim", "$rtrim", "$toString", "$toInt",
	"$toLong", "$toDouble", "$toDate", "$toDecimal", "$dateToString",
	"$dateFromString", "$year", "$month", "$week", "$dayOfMonth", "$dayOfWeek",
	"$dayOfYear", "$hour", "$minute", "$second", "$cond", "$ifNull", "$switch",
	"$cmp", "$arrayElemAt", "$filter", "$map", "$reduce", "$slice", "$literal",
	"$mergeObjects", "$objectToArray", "$arrayToObject", "$isArray", "$setUnion",
	"$setIntersection", "$let", "$meta", "$regexMatch", "$indexOfCP", "$concatArrays",
	"$stdDevPop", "$stdDevSamp", "$dateDiff", "$dateTrunc",
)

func setOf(names ...string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}

// ParseDocumentQuery decodes query text of the form
// {"collection": ..., "filter"|"query": {...}, "projection": {...}} or
// {"collection": ..., "pipeline": [...]}. It does not judge safety.
func ParseDocumentQuery(text string) (*DocumentQuery, error) {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	root, err := decodeValue(dec)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDocument, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing content", ErrMalformedDocument)
	}
	top, ok := root.(bson.D)
	if !ok {
		return nil, fmt.Errorf("%w: expected an object", ErrMalformedDocument)
	}

	q := &DocumentQuery{}
	for _, e := range top {
		switch e.Key {
		case "collection":
			q.Collection, ok = e.Value.(string)
		case "operation", "op":
			var op string
			op, ok = e.Value.(string)
			q.Operation = strings.ToLower(op)
		case "filter", "query":
			q.Filter, ok = e.Value.(bson.D)
		case "projection":
			q.Projection, ok = e.Value.(bson.D)
		case "sort":
			q.Sort, ok = e.Value.(bson.D)
		case "field":
			q.Field, ok = e.Value.(string)
		case "limit":
			q.Limit, ok = e.Value.(int64)
		case "skip":
			q.Skip, ok = e.Value.(int64)
		case "pipeline":
			var arr bson.A
			if arr, ok = e.Value.(bson.A); ok {
				for _, s := range arr {
					stage, isDoc := s.(bson.D)
					if !isDoc {
						ok = false
						break
					}
					q.Pipeline = append(q.Pipeline, stage)
				}
			}
		default:
			ok = true
			q.writeField = q.writeField || writeKeys[e.Key]
			if !ignoredKeys[e.Key] && !writeKeys[e.Key] {
				return nil, fmt.Errorf("%w: unexpected field %q", ErrMalformedDocument, e.Key)
			}
		}
		if !ok {
			return nil, fmt.Errorf("%w: field %q has the wrong type", ErrMalformedDocument, e.Key)
		}
	}
	if q.Operation == "" {
		q.Operation = OpFind
		if q.Pipeline != nil {
			q.Operation = OpAggregate
		}
	}
	return q, nil
}

// decodeValue reads one JSON value, keeping object key order.
func decodeValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			d := bson.D{}
			for dec.More() {
				kt, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, _ := kt.(string)
				val, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				d = append(d, bson.E{Key: key, Value: val})
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			if dt, ok := extendedDate(d); ok {
				return dt, nil
			}
			return d, nil
		case '[':
			a := bson.A{}
			for dec.More() {
				val, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				a = append(a, val)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return a, nil
		}
		return nil, fmt.Errorf("unexpected delimiter %v", t)
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n, nil
		}
		return t.Float64()
	default:
		return t, nil
	}
}

// extendedDate reads the {"$date": "<RFC 3339>"} form generators use for
// date literals.
func extendedDate(d bson.D) (primitive.DateTime, bool) {
	if len(d) != 1 || d[0].Key != "$date" {
		return 0, false
	}
	s, ok := d[0].Value.(string)
	if !ok {
		return 0, false
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0, false
	}
	return primitive.NewDateTimeFromTime(t), true
}

// collector gathers findings until one blocks.
type collector struct {
	findings []Finding
	seen     map[ThreatType]bool
}

func (c *collector) add(t ThreatType, l ThreatLevel) {
	if c.stopped() {
		return
	}
	if c.seen == nil {
		c.seen = map[ThreatType]bool{}
	}
	if c.seen[t] && !l.Blocks() {
		return
	}
	c.seen[t] = true
	c.findings = append(c.findings, Finding{Type: t, Level: l})
}

func (c *collector) stopped() bool {
	for _, f := range c.findings {
		if f.Level.Blocks() {
			return true
		}
	}
	return false
}

type walkContext int

const (
	inFilter walkContext = iota
	inPipeline
)

func (v *Validator) validateDocument(text string) (*DocumentQuery, Result) {
	c := &collector{}
	if strings.TrimSpace(text) == "" {
		c.add(ThreatMalformedQuery, LevelDangerous)
		return nil, newResult(c.findings)
	}

	q, err := ParseDocumentQuery(text)
	if err != nil {
		c.add(ThreatMalformedQuery, LevelDangerous)
		return nil, newResult(c.findings)
	}
	if q.writeField {
		c.add(ThreatWriteOperation, LevelCritical)
		return nil, newResult(c.findings)
	}

	op := q.Operation
	switch {
	case writeOperations[op]:
		c.add(ThreatWriteOperation, LevelCritical)
	case op == "mapreduce":
		c.add(ThreatCodeInjection, LevelCritical)
	case readOperations[op] == "":
		c.add(ThreatDisallowedStatement, LevelDangerous)
	default:
		q.Operation = readOperations[op]
	}
	if c.stopped() {
		return nil, newResult(c.findings)
	}

	if q.Collection == "" {
		c.add(ThreatMalformedQuery, LevelDangerous)
	} else if isSystemCollection(q.Collection) {
		c.add(ThreatInformationDisclosure, LevelDangerous)
	}
	if q.Operation == OpDistinct && q.Field == "" {
		c.add(ThreatMalformedQuery, LevelDangerous)
	}

	v.walk(q.Filter, inFilter, 1, c)
	v.walk(q.Projection, inPipeline, 1, c)
	v.walk(q.Sort, inPipeline, 1, c)

	if len(q.Pipeline) > v.opts.MaxPipelineStages {
		c.add(ThreatResourceExhaustion, LevelSuspicious)
	}
	for _, stage := range q.Pipeline {
		if len(stage) != 1 {
			c.add(ThreatMalformedQuery, LevelDangerous)
			break
		}
		v.stage(stage[0], 1, c)
	}

	res := newResult(c.findings)
	if !res.Safe() {
		return nil, res
	}
	return q, res
}

func (v *Validator) stage(e bson.E, depth int, c *collector) {
	switch {
	case codeOperators[e.Key]:
		c.add(ThreatCodeInjection, LevelCritical)
		return
	case writeOperators[e.Key]:
		c.add(ThreatWriteOperation, LevelCritical)
		return
	case adminStages[e.Key]:
		c.add(ThreatInformationDisclosure, LevelDangerous)
		return
	case !pipelineStages[e.Key]:
		c.add(ThreatDisallowedOperator, LevelDangerous)
		return
	}

	switch e.Key {
	case "$match":
		v.walk(e.Value, inFilter, depth+1, c)
		return
	case "$lookup", "$graphLookup":
		if spec, ok := e.Value.(bson.D); ok {
			for _, f := range spec {
				if f.Key == "from" {
					if from, _ := f.Value.(string); isSystemCollection(from) {
						c.add(ThreatInformationDisclosure, LevelDangerous)
					}
				}
				if f.Key == "pipeline" {
					if sub, ok := f.Value.(bson.A); ok {
						for _, s := range sub {
							if sd, ok := s.(bson.D); ok && len(sd) == 1 {
								v.stage(sd[0], depth+2, c)
							} else {
								c.add(ThreatMalformedQuery, LevelDangerous)
							}
						}
						continue
					}
				}
				v.walk(f.Value, inPipeline, depth+2, c)
			}
			return
		}
	case "$facet":
		if spec, ok := e.Value.(bson.D); ok {
			for _, f := range spec {
				sub, ok := f.Value.(bson.A)
				if !ok {
					c.add(ThreatMalformedQuery, LevelDangerous)
					continue
				}
				for _, s := range sub {
					if sd, ok := s.(bson.D); ok && len(sd) == 1 {
						v.stage(sd[0], depth+2, c)
					} else {
						c.add(ThreatMalformedQuery, LevelDangerous)
					}
				}
			}
			return
		}
	}
	v.walk(e.Value, inPipeline, depth+1, c)
}

func (v *Validator) walk(val any, ctx walkContext, depth int, c *collector) {
	if c.stopped() || val == nil {
		return
	}
	// Too-deep nesting is flagged, and operator checks still run below it.
	if depth > v.opts.MaxDocumentDepth {
		c.add(ThreatResourceExhaustion, LevelSuspicious)
	}
	switch t := val.(type) {
	case bson.D:
		for _, e := range t {
			if strings.HasPrefix(e.Key, "$") && !v.operatorAllowed(e.Key, ctx, c) {
				return
			}
			if e.Key == "_id" && ctx == inFilter && !identifierValueAllowed(e.Value) {
				c.add(ThreatIdentifierPassthrough, LevelDangerous)
				return
			}
			child := ctx
			if e.Key == "$expr" {
				child = inPipeline
			}
			v.walk(e.Value, child, depth+1, c)
		}
	case bson.A:
		for _, item := range t {
			v.walk(item, ctx, depth+1, c)
		}
	}
}

func (v *Validator) operatorAllowed(key string, ctx walkContext, c *collector) bool {
	switch {
	case codeOperators[key]:
		c.add(ThreatCodeInjection, LevelCritical)
	case writeOperators[key]:
		c.add(ThreatWriteOperation, LevelCritical)
	case updateOperators[key] && ctx == inFilter:
		c.add(ThreatWriteOperation, LevelCritical)
	case queryOperators[key]:
		return true
	case ctx == inPipeline && (expressionOperators[key] || pipelineStages[key]):
		return true
	default:
		c.add(ThreatDisallowedOperator, LevelDangerous)
	}
	return false
}

// identifierValueAllowed accepts a hex object id string or an $eq/$in/$nin
// comparison over hex object id strings. Anything else, including extended
// JSON wrappers such as {"$oid": ...}, is rejected.
func identifierValueAllowed(val any) bool {
	switch t := val.(type) {
	case string:
		return primitive.IsValidObjectID(t)
	case bson.D:
		for _, e := range t {
			switch e.Key {
			case "$eq":
				if !isObjectIDHex(e.Value) {
					return false
				}
			case "$in", "$nin":
				arr, ok := e.Value.(bson.A)
				if !ok || len(arr) == 0 {
					return false
				}
				for _, item := range arr {
					if !isObjectIDHex(item) {
						return false
					}
				}
			default:
				return false
			}
		}
		return len(t) > 0
	}
	return false
}

func isObjectIDHex(v any) bool {
	s, ok := v.(string)
	return ok && primitive.IsValidObjectID(s)
}

func isSystemCollection(name string) bool {
	return strings.HasPrefix(strings.ToLower(name), "system.")
}

// ConvertIdentifiers rewrites string _id values that hold a hex object id
// into primitive.ObjectID, in the filter and in every $match stage. It is
// the only place query text becomes a native identifier.
func ConvertIdentifiers(q *DocumentQuery) {
	convertIDs(q.Filter)
	for _, stage := range q.Pipeline {
		for i, e := range stage {
			if e.Key == "$match" {
				if d, ok := e.Value.(bson.D); ok {
					convertIDs(d)
					stage[i].Value = d
				}
			}
		}
	}
}

func convertIDs(d bson.D) {
	for i, e := range d {
		switch {
		case e.Key == "_id":
			d[i].Value = convertIDValue(e.Value)
		case e.Key == "$and" || e.Key == "$or" || e.Key == "$nor":
			if arr, ok := e.Value.(bson.A); ok {
				for _, item := range arr {
					if sub, ok := item.(bson.D); ok {
						convertIDs(sub)
					}
				}
			}
		}
	}
}

func convertIDValue(val any) any {
	switch t := val.(type) {
	case string:
		if primitive.IsValidObjectID(t) {
			oid, _ := primitive.ObjectIDFromHex(t)
			return oid
		}
		return t
	case bson.D:
		for i, e := range t {
			switch ev := e.Value.(type) {
			case string:
				t[i].Value = convertIDValue(ev)
			case bson.A:
				out := make(bson.A, len(ev))
				for j, item := range ev {
					out[j] = convertIDValue(item)
				}
				t[i].Value = out
			}
		}
		return t
	}
	return val
}

// String renders the query as relaxed extended JSON for display.
func (q *DocumentQuery) String() string {
	doc := bson.D{{Key: "collection", Value: q.Collection}, {Key: "operation", Value: q.Operation}}
	if len(q.Filter) > 0 {
		doc = append(doc, bson.E{Key: "filter", Value: q.Filter})
	}
	if len(q.Projection) > 0 {
		doc = append(doc, bson.E{Key: "projection", Value: q.Projection})
	}
	if len(q.Pipeline) > 0 {
		doc = append(doc, bson.E{Key: "pipeline", Value: q.Pipeline})
	}
	if q.Limit > 0 {
		doc = append(doc, bson.E{Key: "limit", Value: q.Limit})
	}
	out, err := bson.MarshalExtJSON(doc, false, false)
	if err != nil {
		return q.Collection
	}
	return string(bytes.TrimSpace(out))
}
