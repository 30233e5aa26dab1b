package domain

// Collection names one of the two persisted entity sets.
type Collection string

const (
	Templates Collection = "templates"
	Todos     Collection = "todos"
)

// Op is a mutation operation.
type Op string

const (
	Upsert Op = "upsert"
	Delete Op = "delete"
)

// Mutation is one logical write. Upserts carry the full record for their
// collection; deletes carry only the ID.
type Mutation struct {
	Collection Collection `json:"collection"`
	Op         Op         `json:"op"`
	Template   *Template  `json:"template,omitempty"`
	Instance   *Instance  `json:"instance,omitempty"`
	ID         string     `json:"id,omitempty"`
}

// Batch is an ordered sequence of mutations applied all-or-nothing by a
// store. Guard, when set, is a claim key: the batch applies only if the key
// has not been claimed before, which is how materialization stays
// at-most-once per day across sessions and reloads.
type Batch struct {
	Guard string     `json:"guard,omitempty"`
	Muts  []Mutation `json:"muts"`
}

// Empty reports whether the batch carries no work.
func (b Batch) Empty() bool {
	return len(b.Muts) == 0
}

// UpsertTemplate builds a template upsert mutation.
func UpsertTemplate(t Template) Mutation {
	return Mutation{Collection: Templates, Op: Upsert, Template: &t, ID: t.ID}
}

// UpsertTodo builds an instance upsert mutation.
func UpsertTodo(in Instance) Mutation {
	return Mutation{Collection: Todos, Op: Upsert, Instance: &in, ID: in.ID}
}

// DeleteTemplate builds a template delete mutation.
func DeleteTemplate(id string) Mutation {
	return Mutation{Collection: Templates, Op: Delete, ID: id}
}

// DeleteTodoMutation builds an instance delete mutation.
func DeleteTodoMutation(id string) Mutation {
	return Mutation{Collection: Todos, Op: Delete, ID: id}
}
