package orchestrator

// RegisterTemplates installs the built-in workflow templates. Step
// payloads stay empty: run parameters flow into every step through the
// shared run context.
func RegisterTemplates(e *Engine) error {
	newHire := NewWorkflow("wf_new_hire", "New Hire Onboarding", false)
	newHire.AddStep(StepSpec{Action: "create_offer", AgentType: "hr"})
	newHire.AddStep(StepSpec{Action: "provision_access", AgentType: "it"})
	newHire.AddStep(StepSpec{Action: "enroll_benefits", AgentType: "hr"})
	if err := e.Register(newHire); err != nil {
		return err
	}

	// Registration and the security review run side by side; contract
	// drafting waits for both.
	vendor := NewWorkflow("wf_vendor_onboard", "Vendor Onboarding", true)
	registration := vendor.AddStep(StepSpec{Action: "vendor_registration", AgentType: "procurement"})
	review := vendor.AddStep(StepSpec{Action: "security_review", AgentType: "ops"})
	vendor.AddStep(StepSpec{
		Action:    "contract_drafting",
		AgentType: "legal",
		DependsOn: []string{registration, review},
	})
	if err := e.Register(vendor); err != nil {
		return err
	}

	expense := NewWorkflow("wf_expense_approval", "Expense Approval", false)
	expense.AddStep(StepSpec{Action: "approve_expense", AgentType: "finance"})
	expense.AddStep(StepSpec{Action: "process_payment", AgentType: "finance"})
	return e.Register(expense)
}
