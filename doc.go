/*
Package kveql is a record-oriented query execution layer over an ordered
key-value store (in this case, Bolt), in which you hand-assemble the physical
execution plan instead of delegating to a query optimizer.

In a relational database you write SQL and the planner picks the low-level
operations: table scans, index lookups, join strategies. Here you are the
planner: you compose the low-level operations directly, so you know exactly
what performance to expect.

We implement:

1. Collections of records. A record is a key plus a JSON-like value; keys and
values are both arbitrary JSON values (strings and numbers make good keys).

2. Indices over extracted values, kept consistent with primary data: every
insert and delete commits the primary write and all index side-effects in one
atomic batch.

3. A composable operator algebra (scan, key lookup, index lookup, extract,
augment, nested loops, hash join, merge, map) executed lazily, pull-based,
over one consistent read snapshot.

# Basic usage

	db, err := kveql.Open("test.db", kveql.Options{})
	...
	john := map[string]any{"name": "John Doe", "age": 43.0}
	err = db.Insert("type1", "key1", john)
	ov, err := db.Get("type1", "key1") // mo.Some(john)
	err = db.Delete("type1", "key1")
	ov, err = db.Get("type1", "key1") // mo.None

# Queries

In the classic Northwind sample there are categories and products, each
product belonging to a category. To list every product with its category's
description, one plan is: scan categories, keep the description, and for each
category look up its products by index and augment them:

	rows, err := db.Execute(kveql.NestedLoops(
		kveql.Extract([]string{"description"}, kveql.Scan("categories")),
		func(rec kveql.Record) (*kveql.Operation, error) {
			return kveql.Augment(rec.Value, kveql.NestedLoops(
				kveql.IndexLookup("products", "product_category_id", rec.Key),
				func(rec kveql.Record) (*kveql.Operation, error) {
					return kveql.KeyLookup("products", rec.Key), nil
				},
			)), nil
		},
	))

Since that plan touches all products anyway, scanning both sides and hash
joining is likely faster:

	rows, err := db.Execute(kveql.HashJoin(
		kveql.Scan("categories"), kveql.ExtractKey(),
		kveql.Scan("products"), kveql.ExtractPointer("/category_id"),
		func(cat mo.Option[kveql.Record], prod kveql.Record) (mo.Option[kveql.Record], error) {
			if c, ok := cat.Get(); ok {
				if d, ok := kveql.ExtractPointer("/description").Apply(c).Get(); ok {
					prod.Value = mergeDescription(prod.Value, d)
				}
			}
			return mo.Some(prod), nil
		},
	))

Results are pulled through Rows:

	defer rows.Close()
	for rows.Next() {
		rec := rows.Record()
		...
	}
	err = rows.Err()
*/
package kveql
