package backendtest

import (
	"fmt"

	"github.com/jonwraymond/toolgate/envelope"
	"github.com/jonwraymond/toolgate/internalauth"
)

// EmployeeCount is the size of the HR data set.
const EmployeeCount = 59

var departments = []string{"Engineering", "Sales", "Finance", "Support", "People"}

// HR serves list_employees, get_employee and delete_employee over
// EmployeeCount employees with ids emp-001 to emp-059.
func HR(signer *internalauth.Signer) (*Backend, *Store) {
	records := make([]Record, 0, EmployeeCount)
	for i := 1; i <= EmployeeCount; i++ {
		records = append(records, Record{
			"employee_id":  fmt.Sprintf("emp-%03d", i),
			"name":         fmt.Sprintf("Employee %d", i),
			"department":   departments[(i-1)%len(departments)],
			"email":        fmt.Sprintf("employee%d@example.com", i),
			"salary":       60000 + i*1000,
			"ssn":          fmt.Sprintf("900-00-%04d", i),
			"home_address": fmt.Sprintf("%d Main Street", i),
		})
	}
	s := NewStore("employee_id", records)

	b := New("hr", signer,
		Tool{Name: "list_employees", Description: "List employees", Handler: List(s, "department")},
		Tool{Name: "get_employee", Description: "Fetch one employee", Handler: Lookup(s, "employee_id", "employee")},
		Tool{Name: "delete_employee", Description: "Remove an employee", Handler: Mutation(s, "employee_id", "employee",
			func(r Record, _ map[string]any) string {
				return fmt.Sprintf("Delete employee %s (%s)? This cannot be undone.", r["name"], r["employee_id"])
			},
			func(s *Store, id string, _ map[string]any) envelope.Response {
				s.Remove(id)
				return envelope.OK(map[string]any{"employee_id": id, "deleted": true}, envelope.Metadata{})
			})},
	)
	return b, s
}

// Finance serves list_invoices, get_budget and approve_invoice.
func Finance(signer *internalauth.Signer) (*Backend, *Store) {
	statuses := []string{"pending", "approved", "paid"}
	records := make([]Record, 0, 12)
	for i := 1; i <= 12; i++ {
		records = append(records, Record{
			"invoice_id":   fmt.Sprintf("inv-%03d", i),
			"vendor":       fmt.Sprintf("Vendor %d", i),
			"amount":       1500 * i,
			"status":       statuses[(i-1)%len(statuses)],
			"bank_account": fmt.Sprintf("DE00 0000 0000 %04d", i),
		})
	}
	s := NewStore("invoice_id", records)

	budgets := NewStore("department", []Record{
		{"department": "Engineering", "allocated": 1200000, "spent": 830000},
		{"department": "Sales", "allocated": 640000, "spent": 410000},
		{"department": "Finance", "allocated": 220000, "spent": 150000},
		{"department": "Support", "allocated": 310000, "spent": 280000},
		{"department": "People", "allocated": 180000, "spent": 90000},
	})

	b := New("finance", signer,
		Tool{Name: "list_invoices", Description: "List invoices", Handler: List(s, "status", "vendor")},
		Tool{Name: "get_budget", Description: "Fetch a department budget", Handler: Lookup(budgets, "department", "budget")},
		Tool{Name: "approve_invoice", Description: "Approve an invoice", Handler: Mutation(s, "invoice_id", "invoice",
			func(r Record, _ map[string]any) string {
				return fmt.Sprintf("Approve invoice %s from %s for %v?", r["invoice_id"], r["vendor"], r["amount"])
			},
			func(s *Store, id string, _ map[string]any) envelope.Response {
				s.Update(id, func(r Record) { r["status"] = "approved" })
				return envelope.OK(map[string]any{"invoice_id": id, "status": "approved"}, envelope.Metadata{})
			})},
	)
	return b, s
}

// Sales serves list_opportunities, get_opportunity and close_opportunity.
func Sales(signer *internalauth.Signer) (*Backend, *Store) {
	stages := []string{"prospecting", "proposal", "negotiation"}
	records := make([]Record, 0, 8)
	for i := 1; i <= 8; i++ {
		records = append(records, Record{
			"opportunity_id": fmt.Sprintf("opp-%03d", i),
			"account":        fmt.Sprintf("Account %d", i),
			"value":          25000 * i,
			"stage":          stages[(i-1)%len(stages)],
			"owner":          fmt.Sprintf("rep%d", (i-1)%3+1),
		})
	}
	s := NewStore("opportunity_id", records)

	b := New("sales", signer,
		Tool{Name: "list_opportunities", Description: "List opportunities", Handler: List(s, "stage", "owner")},
		Tool{Name: "get_opportunity", Description: "Fetch one opportunity", Handler: Lookup(s, "opportunity_id", "opportunity")},
		Tool{Name: "close_opportunity", Description: "Close an opportunity", Handler: Mutation(s, "opportunity_id", "opportunity",
			func(r Record, args map[string]any) string {
				return fmt.Sprintf("Close opportunity %s (%s) as %s?", r["opportunity_id"], r["account"], outcome(args))
			},
			func(s *Store, id string, args map[string]any) envelope.Response {
				stage := "closed_" + outcome(args)
				s.Update(id, func(r Record) { r["stage"] = stage })
				return envelope.OK(map[string]any{"opportunity_id": id, "stage": stage}, envelope.Metadata{})
			})},
	)
	return b, s
}

// Support serves list_tickets, get_ticket and close_ticket.
func Support(signer *internalauth.Signer) (*Backend, *Store) {
	priorities := []string{"low", "normal", "high"}
	records := make([]Record, 0, 15)
	for i := 1; i <= 15; i++ {
		records = append(records, Record{
			"ticket_id": fmt.Sprintf("tkt-%03d", i),
			"subject":   fmt.Sprintf("Issue %d", i),
			"priority":  priorities[(i-1)%len(priorities)],
			"status":    "open",
		})
	}
	s := NewStore("ticket_id", records)

	b := New("support", signer,
		Tool{Name: "list_tickets", Description: "List tickets", Handler: List(s, "priority", "status")},
		Tool{Name: "get_ticket", Description: "Fetch one ticket", Handler: Lookup(s, "ticket_id", "ticket")},
		Tool{Name: "close_ticket", Description: "Close a ticket", Handler: Mutation(s, "ticket_id", "ticket",
			func(r Record, _ map[string]any) string {
				return fmt.Sprintf("Close ticket %s (%s)?", r["ticket_id"], r["subject"])
			},
			func(s *Store, id string, _ map[string]any) envelope.Response {
				s.Update(id, func(r Record) { r["status"] = "closed" })
				return envelope.OK(map[string]any{"ticket_id": id, "status": "closed"}, envelope.Metadata{})
			})},
	)
	return b, s
}

func outcome(args map[string]any) string {
	if o, ok := args["outcome"].(string); ok && (o == "won" || o == "lost") {
		return o
	}
	return "won"
}
