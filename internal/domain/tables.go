package domain

var Tables = []interface{}{
	// System
	&SysConfig{},
	&SysOpr{},
	&SysOprLog{},
	// Assistant platform
	&ClientInstance{},
	&ConversationThread{},
	&PauseRecord{},
	&ChatMessage{},
}
