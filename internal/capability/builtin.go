package capability

func f64(v float64) *float64 { return &v }

// Builtins returns the built-in capability set. Deployments extend the
// registry at startup; nothing else mutates it afterwards.
func Builtins() []Definition {
	return []Definition{
		{
			ID:          "finance.approve_expense/v1",
			Description: "Approve or reject an employee expense report",
			Keywords:    []string{"expense", "reimburse", "reimbursement", "receipt"},
			Aliases:     []string{"expense_approval", "approve_expense_report", "submit_expense"},
			Schema: &Schema{
				Required: []string{"amount"},
				Fields: map[string]FieldSpec{
					"amount":           {Type: FieldNumber, Min: f64(0)},
					"has_receipt":      {Type: FieldBool},
					"receipt_attached": {Type: FieldBool},
					"category":         {Type: FieldString},
					"description":      {Type: FieldString},
					"employee_id":      {Type: FieldString},
					"department":       {Type: FieldString},
				},
			},
		},
		{
			ID:          "finance.process_payment/v1",
			Description: "Execute an outbound payment to a vendor or employee",
			Keywords:    []string{"payment", "invoice", "wire", "transfer"},
			Aliases:     []string{"pay_invoice", "wire_transfer", "make_payment"},
			Sensitive:   true,
			Schema: &Schema{
				Required: []string{"amount"},
				Fields: map[string]FieldSpec{
					"amount":     {Type: FieldNumber, Min: f64(0)},
					"vendor":     {Type: FieldString},
					"invoice_id": {Type: FieldString},
					"account":    {Type: FieldString},
					"currency":   {Type: FieldString},
				},
			},
		},
		{
			ID:          "finance.review_budget/v1",
			Description: "Review departmental budget allocation and spend",
			Keywords:    []string{"budget", "forecast", "allocation", "spend"},
			Aliases:     []string{"budget_review"},
		},
		{
			ID:          "hr.set_salary/v1",
			Description: "Set or adjust an employee's compensation",
			Keywords:    []string{"salary", "compensation", "band", "raise"},
			Aliases:     []string{"update_salary", "set_compensation", "adjust_salary"},
			Sensitive:   true,
			Schema: &Schema{
				Required: []string{"salary"},
				Fields: map[string]FieldSpec{
					"salary":         {Type: FieldNumber, Min: f64(0)},
					"level":          {Type: FieldString},
					"employee_id":    {Type: FieldString},
					"effective_date": {Type: FieldString},
				},
			},
		},
		{
			ID:          "hr.generate_offer/v1",
			Description: "Generate a compensation offer for a candidate",
			Keywords:    []string{"offer", "candidate", "compensation", "hire"},
			Aliases:     []string{"create_offer", "make_offer"},
			Schema: &Schema{
				Fields: map[string]FieldSpec{
					"salary":         {Type: FieldNumber, Min: f64(0)},
					"level":          {Type: FieldString},
					"candidate":      {Type: FieldString},
					"current_salary": {Type: FieldNumber, Min: f64(0)},
					"start_date":     {Type: FieldString},
				},
			},
		},
		{
			ID:          "hr.enroll_benefits/v1",
			Description: "Enroll an employee in the benefits program",
			Keywords:    []string{"benefits", "enrollment", "insurance", "401k"},
			Aliases:     []string{"benefits_enrollment", "enroll_in_benefits"},
			Schema: &Schema{
				Fields: map[string]FieldSpec{
					"employee_id":   {Type: FieldString},
					"employee_name": {Type: FieldString},
					"plan":          {Type: FieldString},
				},
			},
		},
		{
			ID:          "hr.onboard_employee/v1",
			Description: "Start onboarding for a new employee",
			Keywords:    []string{"onboard", "hire", "employee", "orientation"},
			Aliases:     []string{"new_hire", "hire_employee", "start_onboarding"},
			Schema: &Schema{
				Fields: map[string]FieldSpec{
					"employee_name": {Type: FieldString},
					"start_date":    {Type: FieldString},
					"role":          {Type: FieldString},
					"department":    {Type: FieldString},
					"manager":       {Type: FieldString},
				},
			},
		},
		{
			ID:          "hr.terminate_employee/v1",
			Description: "Terminate an employee and trigger offboarding",
			Keywords:    []string{"terminate", "offboard", "dismissal"},
			Aliases:     []string{"offboard_employee", "terminate_employee"},
			Sensitive:   true,
			Schema: &Schema{
				Required: []string{"employee_id"},
				Fields: map[string]FieldSpec{
					"employee_id": {Type: FieldString},
					"reason":      {Type: FieldString},
					"last_day":    {Type: FieldString},
				},
			},
		},
		{
			ID:          "legal.review_contract/v1",
			Description: "Review or draft a contract for risk and required clauses",
			Keywords:    []string{"contract", "agreement", "terms", "clause"},
			Aliases:     []string{"contract_review", "contract_drafting", "draft_contract"},
			Schema: &Schema{
				Fields: map[string]FieldSpec{
					"counterparty":   {Type: FieldString},
					"value":          {Type: FieldNumber, Min: f64(0)},
					"contract_value": {Type: FieldNumber, Min: f64(0)},
					"contract_type":  {Type: FieldString},
					"legal_reviewed": {Type: FieldBool},
				},
			},
		},
		{
			ID:          "legal.check_nda/v1",
			Description: "Check whether an active NDA covers a counterparty",
			Keywords:    []string{"nda", "nondisclosure", "confidentiality"},
			Aliases:     []string{"nda_check", "verify_nda"},
		},
		{
			ID:          "procurement.onboard_vendor/v1",
			Description: "Register a new vendor for purchasing",
			Keywords:    []string{"vendor", "supplier", "onboarding"},
			Aliases:     []string{"vendor_onboarding", "add_vendor", "register_vendor", "vendor_registration"},
			Schema: &Schema{
				Fields: map[string]FieldSpec{
					"vendor_id":          {Type: FieldString},
					"vendor_name":        {Type: FieldString},
					"contract_value":     {Type: FieldNumber, Min: f64(0)},
					"category":           {Type: FieldString},
					"w9_on_file":         {Type: FieldBool},
					"insurance_verified": {Type: FieldBool},
					"contract_signed":    {Type: FieldBool},
				},
			},
		},
		{
			ID:          "procurement.create_purchase_order/v1",
			Description: "Create a purchase order against an approved vendor",
			Keywords:    []string{"purchase", "order", "po", "procurement"},
			Aliases:     []string{"create_po", "purchase_order", "raise_po"},
			Schema: &Schema{
				Fields: map[string]FieldSpec{
					"amount": {Type: FieldNumber, Min: f64(0)},
					"vendor": {Type: FieldString},
					"items":  {Type: FieldList},
				},
			},
		},
		{
			ID:          "comms.send_email/v1",
			Description: "Send an email on behalf of an agent",
			Keywords:    []string{"email", "send", "mail", "notify"},
			Aliases:     []string{"send_mail", "email_send", "notify_by_email"},
			Schema: &Schema{
				Fields: map[string]FieldSpec{
					"to":        {Type: FieldString},
					"recipient": {Type: FieldString},
					"subject":   {Type: FieldString},
					"body":      {Type: FieldString},
					"cc":        {Type: FieldList},
				},
			},
		},
		{
			ID:          "it.provision_access/v1",
			Description: "Provision system access for an employee",
			Keywords:    []string{"provision", "access", "account", "permission"},
			Aliases:     []string{"grant_access", "provision_account", "create_account"},
			Sensitive:   true,
			Schema: &Schema{
				Fields: map[string]FieldSpec{
					"employee_id":   {Type: FieldString},
					"employee_name": {Type: FieldString},
					"systems":       {Type: FieldList},
					"role":          {Type: FieldString},
				},
			},
		},
		{
			ID:          "it.reset_password/v1",
			Description: "Reset a user's password",
			Keywords:    []string{"password", "reset", "credentials"},
			Aliases:     []string{"password_reset"},
		},
		{
			ID:          "security.audit_access/v1",
			Description: "Audit access grants for a system or employee",
			Keywords:    []string{"audit", "security", "compliance"},
			Aliases:     []string{"access_audit", "security_review"},
		},
		{
			ID:          "analytics.generate_report/v1",
			Description: "Generate a summary report from recorded activity",
			Keywords:    []string{"report", "summary", "analytics", "metrics"},
			Aliases:     []string{"report_generation", "generate_summary"},
		},
	}
}
