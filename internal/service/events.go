package service

// 资产事件类型
const (
	EventModuleCreated   = "module.created"
	EventModuleRenamed   = "module.renamed"
	EventModuleMoved     = "module.moved"
	EventModuleReordered = "module.reordered"
	EventModuleDeleted   = "module.deleted"

	EventCaseCreated       = "case.created"
	EventCaseUpdated       = "case.updated"
	EventCaseMoved         = "case.moved"
	EventCaseDeleted       = "case.deleted"
	EventCaseStatusChanged = "case.status_changed"

	EventStepsChanged = "steps.changed"
)

// Publisher receives asset events once the change that caused them is committed.
type Publisher interface {
	Publish(projectID uint, eventType string, payload interface{})
}

type nopPublisher struct{}

func (nopPublisher) Publish(uint, string, interface{}) {}

// StatusChange is the payload of EventCaseStatusChanged.
type StatusChange struct {
	CaseID string `json:"caseId"`
	ID     uint   `json:"id"`
	From   string `json:"from"`
	To     string `json:"to"`
	Action string `json:"action"`
}

// StepsChange is the payload of EventStepsChanged.
type StepsChange struct {
	TestCaseID uint   `json:"testCaseId"`
	Operation  string `json:"operation"`
	Version    int    `json:"version"`
}
