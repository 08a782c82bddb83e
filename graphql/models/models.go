package models

import gql "github.com/graph-gophers/graphql-go"

// Variant is the GraphQL projection of a catalog variant row.
type Variant struct {
	ID           gql.ID
	SKU          string
	VariantType  string
	IsParent     bool
	Quantity     int32
	CostPrice    float64
	SellingPrice float64
	Status       *string
	IMEI         *string
	SerialNumber *string
}

// Unit is the GraphQL projection of a sellable serialized unit.
type Unit struct {
	ID           gql.ID
	IMEI         string
	SerialNumber *string
	Status       string
	Condition    *string
	CostPrice    float64
	SellingPrice float64
}

// Reconciliation reports a parent's stored quantity against its children.
type Reconciliation struct {
	ParentVariantID gql.ID
	ParentQuantity  int32
	ChildCount      int32
	Matches         bool
}

type Branch struct {
	ID            gql.ID
	Name          string
	Code          string
	IsolationMode string
}
