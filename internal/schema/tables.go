package schema

// CoreDictionary declares every table in the data model. It is
// the dictionary the migrator diffs against the live database; plugins
// (outbox, reconciliation, verification-snapshots) merge their own
// tables in via Dictionary.Merge.
func CoreDictionary() *Dictionary {
	d := NewDictionary()
	must(d.Merge(
		ledgerTable(),
		accountBalanceTable(),
		accountBalanceVersionTable(),
		transactionRecordTable(),
		transactionStatusTable(),
		entryRecordTable(),
		ledgerEventTable(),
		blockCheckpointTable(),
		idempotencyKeyTable(),
		hotAccountEntryTable(),
	))
	return d
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}

func ledgerTable() *Table {
	return &Table{
		Name: "ledger",
		Columns: []Column{
			{Name: "id", Type: TypeUUID, PrimaryKey: true, Default: "gen_random_uuid()"},
			{Name: "project_id", Type: TypeUUID},
			{Name: "name", Type: TypeText, NotNull: true},
			{Name: "code", Type: TypeText},
			{Name: "currency", Type: TypeText},
			{Name: "metadata", Type: TypeJSONB, NotNull: true, Default: "'{}'::jsonb"},
			{Name: "created_at", Type: TypeTimestamp, NotNull: true, Default: "now()"},
		},
		Indexes: []Index{
			{Name: "ledger_project_idx", Columns: []string{"project_id"}},
		},
	}
}

func accountBalanceTable() *Table {
	return &Table{
		Name: "account_balance",
		Columns: []Column{
			{Name: "id", Type: TypeUUID, PrimaryKey: true, Default: "gen_random_uuid()"},
			{Name: "ledger_id", Type: TypeUUID, NotNull: true, References: "ledger(id)"},
			{Name: "holder_id", Type: TypeText, NotNull: true},
			{Name: "holder_type", Type: TypeText, NotNull: true},
			{Name: "currency", Type: TypeText, NotNull: true},
			{Name: "allow_overdraft", Type: TypeBoolean, NotNull: true, Default: "false"},
			{Name: "overdraft_limit", Type: TypeBigInt, NotNull: true, Default: "0"},
			{Name: "account_type", Type: TypeText},
			{Name: "account_code", Type: TypeText},
			{Name: "parent_account_id", Type: TypeUUID},
			{Name: "normal_balance", Type: TypeText, NotNull: true, Default: "'debit'"},
			{Name: "indicator", Type: TypeText},
			{Name: "metadata", Type: TypeJSONB, NotNull: true, Default: "'{}'::jsonb"},
			{Name: "created_at", Type: TypeTimestamp, NotNull: true, Default: "now()"},
			{Name: "cached_balance", Type: TypeBigInt, NotNull: true, Default: "0"},
			{Name: "cached_version", Type: TypeBigInt, NotNull: true, Default: "0"},
			{Name: "cached_status", Type: TypeText, NotNull: true, Default: "'active'"},
		},
		Indexes: []Index{
			{Name: "account_balance_holder_currency_uq", Columns: []string{"ledger_id", "holder_id", "currency"}, Unique: true},
			{Name: "account_balance_ledger_idx", Columns: []string{"ledger_id"}},
		},
	}
}

func accountBalanceVersionTable() *Table {
	return &Table{
		Name: "account_balance_version",
		Columns: []Column{
			{Name: "account_id", Type: TypeUUID, NotNull: true, References: "account_balance(id)"},
			{Name: "version", Type: TypeBigInt, NotNull: true},
			{Name: "balance", Type: TypeBigInt, NotNull: true},
			{Name: "credit_balance", Type: TypeBigInt, NotNull: true, Default: "0"},
			{Name: "debit_balance", Type: TypeBigInt, NotNull: true, Default: "0"},
			{Name: "pending_credit", Type: TypeBigInt, NotNull: true, Default: "0"},
			{Name: "pending_debit", Type: TypeBigInt, NotNull: true, Default: "0"},
			{Name: "status", Type: TypeText, NotNull: true, Default: "'active'"},
			{Name: "checksum", Type: TypeText, NotNull: true},
			{Name: "freeze_reason", Type: TypeText},
			{Name: "freeze_who", Type: TypeText},
			{Name: "freeze_when", Type: TypeTimestamp},
			{Name: "closed_reason", Type: TypeText},
			{Name: "closed_who", Type: TypeText},
			{Name: "closed_when", Type: TypeTimestamp},
			{Name: "change_type", Type: TypeText, NotNull: true},
			{Name: "created_at", Type: TypeTimestamp, NotNull: true, Default: "now()"},
		},
		Indexes: []Index{
			{Name: "account_balance_version_pk", Columns: []string{"account_id", "version"}, Unique: true},
		},
	}
}

func transactionRecordTable() *Table {
	return &Table{
		Name: "transaction_record",
		Columns: []Column{
			{Name: "id", Type: TypeUUID, PrimaryKey: true, Default: "gen_random_uuid()"},
			{Name: "ledger_id", Type: TypeUUID, NotNull: true, References: "ledger(id)"},
			{Name: "type", Type: TypeText, NotNull: true},
			{Name: "reference", Type: TypeText, NotNull: true},
			{Name: "amount", Type: TypeBigInt, NotNull: true},
			{Name: "currency", Type: TypeText, NotNull: true},
			{Name: "description", Type: TypeText},
			{Name: "correlation_id", Type: TypeUUID},
			{Name: "source_account_id", Type: TypeUUID},
			{Name: "destination_account_id", Type: TypeUUID},
			{Name: "is_hold", Type: TypeBoolean, NotNull: true, Default: "false"},
			{Name: "hold_expires_at", Type: TypeTimestamp},
			{Name: "parent_id", Type: TypeUUID},
			{Name: "is_reversal", Type: TypeBoolean, NotNull: true, Default: "false"},
			{Name: "refunded_amount", Type: TypeBigInt, NotNull: true, Default: "0"},
			{Name: "effective_date", Type: TypeTimestamp, NotNull: true},
			{Name: "created_at", Type: TypeTimestamp, NotNull: true, Default: "now()"},
			{Name: "metadata", Type: TypeJSONB, NotNull: true, Default: "'{}'::jsonb"},
		},
		Indexes: []Index{
			{Name: "transaction_record_reference_uq", Columns: []string{"ledger_id", "reference"}, Unique: true},
			{Name: "transaction_record_ledger_created_idx", Columns: []string{"ledger_id", "created_at"}},
		},
	}
}

func transactionStatusTable() *Table {
	return &Table{
		Name: "transaction_status",
		Columns: []Column{
			{Name: "id", Type: TypeUUID, PrimaryKey: true, Default: "gen_random_uuid()"},
			{Name: "transaction_id", Type: TypeUUID, NotNull: true, References: "transaction_record(id)"},
			{Name: "status", Type: TypeText, NotNull: true},
			{Name: "committed_amount", Type: TypeBigInt, NotNull: true, Default: "0"},
			{Name: "created_at", Type: TypeTimestamp, NotNull: true, Default: "now()"},
			{Name: "updated_at", Type: TypeTimestamp, NotNull: true, Default: "now()"},
		},
		Indexes: []Index{
			{Name: "transaction_status_txn_idx", Columns: []string{"transaction_id", "created_at"}},
		},
	}
}

func entryRecordTable() *Table {
	return &Table{
		Name: "entry_record",
		Columns: []Column{
			{Name: "id", Type: TypeUUID, PrimaryKey: true, Default: "gen_random_uuid()"},
			{Name: "transaction_id", Type: TypeUUID, NotNull: true, References: "transaction_record(id)"},
			{Name: "account_id", Type: TypeUUID, NotNull: true, References: "account_balance(id)"},
			{Name: "entry_type", Type: TypeText, NotNull: true},
			{Name: "amount", Type: TypeBigInt, NotNull: true},
			{Name: "currency", Type: TypeText, NotNull: true},
			{Name: "original_amount", Type: TypeBigInt},
			{Name: "original_currency", Type: TypeText},
			{Name: "exchange_rate", Type: TypeText},
			{Name: "balance_before", Type: TypeBigInt, NotNull: true},
			{Name: "balance_after", Type: TypeBigInt, NotNull: true},
			{Name: "account_version", Type: TypeBigInt, NotNull: true},
			{Name: "sequence_number", Type: TypeBigInt, NotNull: true},
			{Name: "hash", Type: TypeText, NotNull: true},
			{Name: "prev_hash", Type: TypeText},
			{Name: "is_hot", Type: TypeBoolean, NotNull: true, Default: "false"},
			{Name: "created_at", Type: TypeTimestamp, NotNull: true, Default: "now()"},
		},
		Indexes: []Index{
			{Name: "entry_record_sequence_uq", Columns: []string{"sequence_number"}, Unique: true},
			{Name: "entry_record_account_idx", Columns: []string{"account_id", "account_version"}},
			{Name: "entry_record_txn_account_direction_uq", Columns: []string{"transaction_id", "account_id", "entry_type"}, Unique: true},
		},
	}
}

func ledgerEventTable() *Table {
	return &Table{
		Name: "ledger_event",
		Columns: []Column{
			{Name: "id", Type: TypeUUID, PrimaryKey: true, Default: "gen_random_uuid()"},
			{Name: "ledger_id", Type: TypeUUID, NotNull: true, References: "ledger(id)"},
			{Name: "aggregate_type", Type: TypeText, NotNull: true},
			{Name: "aggregate_id", Type: TypeUUID, NotNull: true},
			{Name: "event_type", Type: TypeText, NotNull: true},
			{Name: "event_data", Type: TypeJSONB, NotNull: true},
			{Name: "sequence_number", Type: TypeBigInt, NotNull: true},
			{Name: "prev_hash", Type: TypeText},
			{Name: "event_hash", Type: TypeText, NotNull: true},
			{Name: "correlation_id", Type: TypeUUID},
			{Name: "created_at", Type: TypeTimestamp, NotNull: true, Default: "now()"},
		},
		Indexes: []Index{
			{Name: "ledger_event_aggregate_seq_uq", Columns: []string{"aggregate_type", "aggregate_id", "sequence_number"}, Unique: true},
			{Name: "ledger_event_ledger_created_idx", Columns: []string{"ledger_id", "created_at"}},
		},
	}
}

func blockCheckpointTable() *Table {
	return &Table{
		Name: "block_checkpoint",
		Columns: []Column{
			{Name: "id", Type: TypeUUID, PrimaryKey: true, Default: "gen_random_uuid()"},
			{Name: "ledger_id", Type: TypeUUID, NotNull: true, References: "ledger(id)"},
			{Name: "block_sequence", Type: TypeBigInt, NotNull: true},
			{Name: "from_event_sequence", Type: TypeBigInt, NotNull: true},
			{Name: "to_event_sequence", Type: TypeBigInt, NotNull: true},
			{Name: "event_count", Type: TypeBigInt, NotNull: true},
			{Name: "events_hash", Type: TypeText, NotNull: true},
			{Name: "block_hash", Type: TypeText, NotNull: true},
			{Name: "merkle_root", Type: TypeText},
			{Name: "prev_block_id", Type: TypeUUID},
			{Name: "block_at", Type: TypeTimestamp, NotNull: true},
			{Name: "sealed_at", Type: TypeTimestamp, NotNull: true, Default: "now()"},
		},
		Indexes: []Index{
			{Name: "block_checkpoint_ledger_seq_uq", Columns: []string{"ledger_id", "block_sequence"}, Unique: true},
		},
	}
}

func idempotencyKeyTable() *Table {
	return &Table{
		Name: "idempotency_key",
		Columns: []Column{
			{Name: "ledger_id", Type: TypeUUID, NotNull: true},
			{Name: "key", Type: TypeText, NotNull: true},
			{Name: "response", Type: TypeJSONB, NotNull: true},
			{Name: "expires_at", Type: TypeTimestamp, NotNull: true},
			{Name: "created_at", Type: TypeTimestamp, NotNull: true, Default: "now()"},
		},
		Indexes: []Index{
			{Name: "idempotency_key_pk", Columns: []string{"ledger_id", "key"}, Unique: true},
		},
	}
}

// hotAccountEntryTable backs the hot-account coalescing path used by
// the optimistic concurrency mode for high-contention accounts.
func hotAccountEntryTable() *Table {
	return &Table{
		Name: "hot_account_entry",
		Columns: []Column{
			{Name: "id", Type: TypeUUID, PrimaryKey: true, Default: "gen_random_uuid()"},
			{Name: "account_id", Type: TypeUUID, NotNull: true, References: "account_balance(id)"},
			{Name: "transaction_id", Type: TypeUUID, NotNull: true, References: "transaction_record(id)"},
			{Name: "entry_type", Type: TypeText, NotNull: true},
			{Name: "amount", Type: TypeBigInt, NotNull: true},
			{Name: "status", Type: TypeText, NotNull: true, Default: "'pending'"},
			{Name: "created_at", Type: TypeTimestamp, NotNull: true, Default: "now()"},
		},
		Indexes: []Index{
			{Name: "hot_account_entry_account_status_idx", Columns: []string{"account_id", "status"}},
		},
	}
}

// OutboxDictionary is the outbox plugin's table contribution: one of the
// three plugins required for integrity alongside reconciliation and
// verification-snapshots.
func OutboxDictionary() []*Table {
	return []*Table{
		{
			Name: "outbox",
			Columns: []Column{
				{Name: "id", Type: TypeUUID, PrimaryKey: true},
				{Name: "ledger_id", Type: TypeUUID, NotNull: true},
				{Name: "topic", Type: TypeText, NotNull: true},
				{Name: "payload", Type: TypeJSONB, NotNull: true},
				{Name: "status", Type: TypeText, NotNull: true, Default: "'pending'"},
				{Name: "retry_count", Type: TypeInteger, NotNull: true, Default: "0"},
				{Name: "last_error", Type: TypeText},
				{Name: "processed_at", Type: TypeTimestamp},
				{Name: "created_at", Type: TypeTimestamp, NotNull: true, Default: "now()"},
			},
			Indexes: []Index{
				{Name: "outbox_pending_idx", Columns: []string{"status", "created_at"}},
			},
		},
		{
			Name: "processed_event",
			Columns: []Column{
				{Name: "id", Type: TypeUUID, NotNull: true},
				{Name: "topic", Type: TypeText, NotNull: true},
				{Name: "created_at", Type: TypeTimestamp, NotNull: true, Default: "now()"},
			},
			Indexes: []Index{
				{Name: "processed_event_pk", Columns: []string{"id", "topic"}, Unique: true},
			},
		},
		{
			Name: "dead_letter_queue",
			Columns: []Column{
				{Name: "id", Type: TypeUUID, PrimaryKey: true, Default: "gen_random_uuid()"},
				{Name: "outbox_id", Type: TypeUUID, NotNull: true},
				{Name: "topic", Type: TypeText, NotNull: true},
				{Name: "payload", Type: TypeJSONB, NotNull: true},
				{Name: "error_message", Type: TypeText, NotNull: true},
				{Name: "retry_count", Type: TypeInteger, NotNull: true},
				{Name: "created_at", Type: TypeTimestamp, NotNull: true, Default: "now()"},
			},
		},
		{
			Name: "webhook_endpoint",
			Columns: []Column{
				{Name: "id", Type: TypeUUID, PrimaryKey: true, Default: "gen_random_uuid()"},
				{Name: "ledger_id", Type: TypeUUID, NotNull: true},
				{Name: "url", Type: TypeText, NotNull: true},
				{Name: "secret", Type: TypeText, NotNull: true},
				{Name: "topics", Type: "text[]", NotNull: true, Default: "'{}'::text[]"},
				{Name: "is_active", Type: TypeBoolean, NotNull: true, Default: "true"},
				{Name: "created_at", Type: TypeTimestamp, NotNull: true, Default: "now()"},
			},
		},
		{
			Name: "webhook_delivery",
			Columns: []Column{
				{Name: "id", Type: TypeUUID, PrimaryKey: true, Default: "gen_random_uuid()"},
				{Name: "outbox_id", Type: TypeUUID, NotNull: true},
				{Name: "webhook_endpoint_id", Type: TypeUUID, NotNull: true},
				{Name: "status", Type: TypeText, NotNull: true},
				{Name: "attempt", Type: TypeInteger, NotNull: true},
				{Name: "last_attempt_at", Type: TypeTimestamp, NotNull: true, Default: "now()"},
				{Name: "http_status", Type: TypeInteger},
				{Name: "error_message", Type: TypeText},
			},
		},
		{
			Name: "worker_lease",
			Columns: []Column{
				{Name: "job_name", Type: TypeText, PrimaryKey: true},
				{Name: "owner", Type: TypeText, NotNull: true},
				{Name: "lease_until", Type: TypeTimestamp, NotNull: true},
			},
		},
		{
			Name: "rate_limit_log",
			Columns: []Column{
				{Name: "id", Type: TypeUUID, PrimaryKey: true, Default: "gen_random_uuid()"},
				{Name: "key", Type: TypeText, NotNull: true},
				{Name: "created_at", Type: TypeTimestamp, NotNull: true, Default: "now()"},
			},
			Indexes: []Index{
				{Name: "rate_limit_log_key_idx", Columns: []string{"key", "created_at"}},
			},
		},
	}
}

// ReconciliationDictionary is the reconciliation plugin's contribution.
func ReconciliationDictionary() []*Table {
	return []*Table{
		{
			Name: "reconciliation_watermark",
			Columns: []Column{
				{Name: "ledger_id", Type: TypeUUID, PrimaryKey: true},
				{Name: "watermark", Type: TypeTimestamp, NotNull: true},
			},
		},
		{
			Name: "reconciliation_result",
			Columns: []Column{
				{Name: "id", Type: TypeUUID, PrimaryKey: true, Default: "gen_random_uuid()"},
				{Name: "ledger_id", Type: TypeUUID, NotNull: true},
				{Name: "kind", Type: TypeText, NotNull: true},
				{Name: "status", Type: TypeText, NotNull: true},
				{Name: "total_mismatches", Type: TypeInteger, NotNull: true, Default: "0"},
				{Name: "diagnostics", Type: TypeJSONB, NotNull: true, Default: "'{}'::jsonb"},
				{Name: "started_at", Type: TypeTimestamp, NotNull: true},
				{Name: "finished_at", Type: TypeTimestamp, NotNull: true, Default: "now()"},
			},
			Indexes: []Index{
				{Name: "reconciliation_result_ledger_idx", Columns: []string{"ledger_id", "finished_at"}},
			},
		},
	}
}

// IdentityDictionary is the dashboard/admin plane's contribution:
// organizations own projects, projects own ledgers, users belong to
// organizations, and API keys are issued per ledger.
func IdentityDictionary() []*Table {
	return []*Table{
		{
			Name: "organization",
			Columns: []Column{
				{Name: "id", Type: TypeUUID, PrimaryKey: true, Default: "gen_random_uuid()"},
				{Name: "name", Type: TypeText, NotNull: true},
				{Name: "created_at", Type: TypeTimestamp, NotNull: true, Default: "now()"},
			},
		},
		{
			Name: "project",
			Columns: []Column{
				{Name: "id", Type: TypeUUID, PrimaryKey: true, Default: "gen_random_uuid()"},
				{Name: "organization_id", Type: TypeUUID, NotNull: true, References: "organization(id)"},
				{Name: "name", Type: TypeText, NotNull: true},
				{Name: "created_at", Type: TypeTimestamp, NotNull: true, Default: "now()"},
			},
			Indexes: []Index{
				{Name: "project_org_idx", Columns: []string{"organization_id"}},
			},
		},
		{
			Name: "app_user",
			Columns: []Column{
				{Name: "id", Type: TypeUUID, PrimaryKey: true, Default: "gen_random_uuid()"},
				{Name: "email", Type: TypeText, NotNull: true},
				{Name: "password_hash", Type: TypeText, NotNull: true},
				{Name: "created_at", Type: TypeTimestamp, NotNull: true, Default: "now()"},
			},
			Indexes: []Index{
				{Name: "app_user_email_uq", Columns: []string{"email"}, Unique: true},
			},
		},
		{
			Name: "org_user",
			Columns: []Column{
				{Name: "organization_id", Type: TypeUUID, NotNull: true, References: "organization(id)"},
				{Name: "user_id", Type: TypeUUID, NotNull: true, References: "app_user(id)"},
				{Name: "role", Type: TypeText, NotNull: true, Default: "'member'"},
				{Name: "created_at", Type: TypeTimestamp, NotNull: true, Default: "now()"},
			},
			Indexes: []Index{
				{Name: "org_user_pk", Columns: []string{"organization_id", "user_id"}, Unique: true},
			},
		},
		{
			Name: "api_key",
			Columns: []Column{
				{Name: "id", Type: TypeUUID, PrimaryKey: true, Default: "gen_random_uuid()"},
				{Name: "ledger_id", Type: TypeUUID, NotNull: true, References: "ledger(id)"},
				{Name: "key_hash", Type: TypeText, NotNull: true},
				{Name: "prefix", Type: TypeText, NotNull: true},
				{Name: "description", Type: TypeText},
				{Name: "is_active", Type: TypeBoolean, NotNull: true, Default: "true"},
				{Name: "created_at", Type: TypeTimestamp, NotNull: true, Default: "now()"},
				{Name: "revoked_at", Type: TypeTimestamp},
			},
			Indexes: []Index{
				{Name: "api_key_ledger_idx", Columns: []string{"ledger_id"}},
			},
		},
	}
}

// VerificationSnapshotDictionary is the verification-snapshots plugin's
// contribution — a periodic cheap witness that the chain was valid as of
// a point in time, so streaming verification doesn't need to replay from
// genesis every time.
func VerificationSnapshotDictionary() []*Table {
	return []*Table{
		{
			Name: "verification_snapshot",
			Columns: []Column{
				{Name: "id", Type: TypeUUID, PrimaryKey: true, Default: "gen_random_uuid()"},
				{Name: "aggregate_type", Type: TypeText, NotNull: true},
				{Name: "aggregate_id", Type: TypeUUID, NotNull: true},
				{Name: "verified_through_sequence", Type: TypeBigInt, NotNull: true},
				{Name: "verified_hash", Type: TypeText, NotNull: true},
				{Name: "created_at", Type: TypeTimestamp, NotNull: true, Default: "now()"},
			},
			Indexes: []Index{
				{Name: "verification_snapshot_aggregate_idx", Columns: []string{"aggregate_type", "aggregate_id", "verified_through_sequence"}},
			},
		},
	}
}
