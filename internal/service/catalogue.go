package service

// ── Hub 消息目录 ──
// 调用名与结果事件名与服务端保持一致，大小写按服务端原样书写

const (
	InvokeGenerate       = "generateTimeTableContext"
	InvokeListSaved      = "getTimeTablesContext"
	InvokeLoad           = "loadTimeTableContext"
	InvokeSave           = "saveCurrentTimeTableContext"
	InvokeDelete         = "deleteTimeTableContext"
	InvokeSetActive      = "setActiveTimeTableContext"
	InvokeLoadActive     = "loadActiveTimeTableContext"
	InvokeUndo           = "undo"
	InvokeRedo           = "redo"
	InvokeAddInterval    = "addInterval"
	InvokeRemoveInterval = "removeInterval"
	InvokeMoveInterval   = "moveInterval"
	InvokeFindPlaces     = "findValidPlaces"
	InvokeFindStaff      = "findValidStaff"
)

const (
	EventGenerate       = "generateTimeTableContextResult"
	EventListSaved      = "getTimeTablesContextResult"
	EventLoad           = "loadTimeTableContextResult"
	EventSave           = "saveCurrentTimeTableContextResult"
	EventDelete         = "deleteTimeTableContextResult"
	EventSetActive      = "setActiveTimeTableContextResult"
	EventLoadActive     = "loadActiveTimeTableContextResult"
	EventUndo           = "undoResult"
	EventRedo           = "redoResult"
	EventAddInterval    = "addIntervalResult"
	EventRemoveInterval = "removeIntervalResult"
	EventMoveInterval   = "moveIntervalResult"
	EventFindPlaces     = "findValidPlacesResult"
	EventFindStaff      = "findValidStaffResult"
)

// family 命令族：界面层据此提示同类操作仍在处理中
type family string

const (
	familyNone       family = ""
	familyGenerate   family = "generate"
	familyHistory    family = "history"
	familyInterval   family = "interval"
	familySearch     family = "search"
	familyList       family = "list"
	familyLoad       family = "load"
	familyDelete     family = "delete"
	familySetActive  family = "set_active"
	familyLoadActive family = "load_active"
)

type commandSpec struct {
	event  string
	family family
}

// commands 调用名 → 结果事件与命令族
//
// 保存不纳入命令族跟踪：服务端不一定回发保存结果，跟踪会让保存按钮一直处于忙碌状态。
var commands = map[string]commandSpec{
	InvokeGenerate:       {EventGenerate, familyGenerate},
	InvokeListSaved:      {EventListSaved, familyList},
	InvokeLoad:           {EventLoad, familyLoad},
	InvokeSave:           {EventSave, familyNone},
	InvokeDelete:         {EventDelete, familyDelete},
	InvokeSetActive:      {EventSetActive, familySetActive},
	InvokeLoadActive:     {EventLoadActive, familyLoadActive},
	InvokeUndo:           {EventUndo, familyHistory},
	InvokeRedo:           {EventRedo, familyHistory},
	InvokeAddInterval:    {EventAddInterval, familyInterval},
	InvokeRemoveInterval: {EventRemoveInterval, familyInterval},
	InvokeMoveInterval:   {EventMoveInterval, familyInterval},
	InvokeFindPlaces:     {EventFindPlaces, familySearch},
	InvokeFindStaff:      {EventFindStaff, familySearch},
}

// ResultEvent 调用对应的结果事件名
func ResultEvent(invocation string) string {
	return commands[invocation].event
}

func familyOf(invocation string) family {
	return commands[invocation].family
}

// invocationOf 结果事件对应的调用名
func invocationOf(event string) (string, bool) {
	for name, cmd := range commands {
		if cmd.event == event {
			return name, true
		}
	}
	return "", false
}
