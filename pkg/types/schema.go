package types

// Schema describes the columns of an external log table.
type Schema struct {
	// Columns are the data columns, in table order
	Columns []ColumnDef `json:"columns"`

	// PartitionColumns are the partition columns, in partition value order
	PartitionColumns []ColumnDef `json:"partition_columns"`
}

// ColumnDef defines a single column in the schema.
type ColumnDef struct {
	// Name is the column name
	Name string `json:"name"`

	// Type is the Hive type, e.g. string or struct<...>
	Type string `json:"type"`

	// Comment is an optional column comment
	Comment string `json:"comment,omitempty"`
}

