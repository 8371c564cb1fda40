package models

// All returns every persisted model, in dependency order, for AutoMigrate.
func All() []any {
	return []any{
		&Emitter{},
		&EmitterSeries{},
		&APIKey{},
		&Customer{},
		&Invoice{},
		&InvoiceItem{},
		&InvoicePayment{},
		&InvoiceFiles{},
		&APICallLog{},
		&WorkflowJob{},
		&WorkflowStep{},
	}
}
