package schema

import (
	"entgo.io/ent"
	"entgo.io/ent/dialect"
	"entgo.io/ent/dialect/entsql"
	"entgo.io/ent/schema"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"

	"github.com/simonraj1/pdf/constants"
	"github.com/simonraj1/pdf/db/ent/schema/utils"
)

// JobRun is one row of the run ledger, written when a job reaches a
// terminal state. Times are stored as unix milliseconds.
type JobRun struct{ ent.Schema }

func (JobRun) Annotations() []schema.Annotation {
	return []schema.Annotation{
		entsql.Annotation{Table: "job_runs"},
	}
}

func (JobRun) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").NotEmpty().Immutable(),
		field.String("status").
			Validate(utils.EnumValidator(
				string(constants.JobStatusCompleted),
				string(constants.JobStatusFailed),
			)),
		field.String("failure_kind").Default(""),
		field.String("source_file").Default(""),
		field.Int("total_pages").NonNegative().Default(0),
		field.Int("questions_extracted").NonNegative().Default(0),
		field.String("output_file").Default(""),
		field.Bool("partial_output").Default(false),
		field.String("message").Default("").
			SchemaType(map[string]string{dialect.Postgres: "text"}),
		field.Int64("started_at"),
		field.Int64("elapsed_ms").NonNegative().Default(0),
	}
}

func (JobRun) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("started_at"),
	}
}

// JobRunColumns lists the ledger columns in declaration order.
func JobRunColumns() []string {
	fields := JobRun{}.Fields()
	cols := make([]string, 0, len(fields))
	for _, f := range fields {
		cols = append(cols, f.Descriptor().Name)
	}
	return cols
}

// ValidateJobRunStatus applies the status field validators.
func ValidateJobRunStatus(status string) error {
	for _, f := range (JobRun{}).Fields() {
		d := f.Descriptor()
		if d.Name != "status" {
			continue
		}
		for _, v := range d.Validators {
			if fn, ok := v.(func(string) error); ok {
				if err := fn(status); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
