package catalog

import (
	"fmt"
	"strings"

	"github.com/athenasync/athenasync/pkg/types"
)

// CloudTrail SerDe and formats.
const (
	CloudTrailSerDe        = "com.amazon.emr.hive.serde.CloudTrailSerde"
	CloudTrailInputFormat  = "com.amazon.emr.cloudtrail.CloudTrailInputFormat"
	CloudTrailOutputFormat = "org.apache.hadoop.hive.ql.io.HiveIgnoreKeyTextOutputFormat"
)

const deserializerComment = "from deserializer"

// CloudTrailDefinition returns the table definition for CloudTrail logs,
// partitioned by region, year, month and day.
func CloudTrailDefinition() TableDefinition {
	col := func(name, typ string) types.ColumnDef {
		return types.ColumnDef{Name: name, Type: typ, Comment: deserializerComment}
	}
	return TableDefinition{
		Schema: types.Schema{
			Columns: []types.ColumnDef{
				col("eventversion", "string"),
				col("useridentity", "struct<type:string,principalid:string,arn:string,accountid:string,invokedby:string,accesskeyid:string,username:string,sessioncontext:struct<attributes:struct<mfaauthenticated:string,creationdate:string>,sessionissuer:struct<type:string,principalid:string,arn:string,accountid:string,username:string>>>"),
				col("eventtime", "string"),
				col("eventsource", "string"),
				col("eventname", "string"),
				col("awsregion", "string"),
				col("sourceipaddress", "string"),
				col("useragent", "string"),
				col("errorcode", "string"),
				col("errormessage", "string"),
				col("requestparameters", "string"),
				col("responseelements", "string"),
				col("additionaleventdata", "string"),
				col("requestid", "string"),
				col("eventid", "string"),
				col("resources", "array<struct<arn:string,accountid:string,type:string>>"),
				col("eventtype", "string"),
				col("apiversion", "string"),
				col("readonly", "string"),
				col("recipientaccountid", "string"),
				col("serviceeventdetails", "string"),
				col("sharedeventid", "string"),
				col("vpcendpointid", "string"),
			},
			PartitionColumns: []types.ColumnDef{
				{Name: "region", Type: "string"},
				{Name: "year", Type: "string"},
				{Name: "month", Type: "string"},
				{Name: "day", Type: "string"},
			},
		},
		SerDe:        CloudTrailSerDe,
		InputFormat:  CloudTrailInputFormat,
		OutputFormat: CloudTrailOutputFormat,
		Parameters: map[string]string{
			"classification": "cloudtrail",
		},
	}
}

// CreateTableSQL renders the Hive DDL creating table from def.
func CreateTableSQL(table Table, def TableDefinition) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE EXTERNAL TABLE IF NOT EXISTS %s (\n", quoteIdent(table.Name))
	for i, c := range def.Schema.Columns {
		fmt.Fprintf(&b, "  %s %s", quoteIdent(c.Name), c.Type)
		if c.Comment != "" {
			fmt.Fprintf(&b, " COMMENT '%s'", escapeLiteral(c.Comment))
		}
		if i < len(def.Schema.Columns)-1 {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}
	b.WriteString(")\n")

	if len(def.Schema.PartitionColumns) > 0 {
		parts := make([]string, len(def.Schema.PartitionColumns))
		for i, c := range def.Schema.PartitionColumns {
			parts[i] = c.Name + " " + c.Type
		}
		fmt.Fprintf(&b, "PARTITIONED BY (%s)\n", strings.Join(parts, ", "))
	}
	fmt.Fprintf(&b, "ROW FORMAT SERDE '%s'\n", def.SerDe)
	fmt.Fprintf(&b, "STORED AS INPUTFORMAT '%s'\n", def.InputFormat)
	fmt.Fprintf(&b, "OUTPUTFORMAT '%s'\n", def.OutputFormat)
	fmt.Fprintf(&b, "LOCATION '%s'", escapeLiteral(table.Location))
	return b.String()
}

// AddPartitionsSQL renders one ALTER TABLE ADD IF NOT EXISTS statement for keys.
func AddPartitionsSQL(table Table, keys []types.PartitionKey) string {
	var b strings.Builder
	fmt.Fprintf(&b, "ALTER TABLE %s ADD IF NOT EXISTS", quoteIdent(table.Name))
	for _, key := range keys {
		fmt.Fprintf(&b, "\nPARTITION (region='%s',year='%s',month='%s',day='%s') LOCATION '%s'",
			key.Region, key.Year(), key.Month(), key.Day(), escapeLiteral(table.PartitionLocation(key)))
	}
	return b.String()
}

func escapeLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
