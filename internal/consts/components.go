package consts

// Component names for the build hub.
const (
	COMP_DAO_TASK = "task_dao"
	COMP_DAO_REPO = "repo_dao"

	COMP_GIT_CLIENT        = "git_client"
	COMP_SVC_BUILD_HUB     = "build_hub"
	COMP_SVC_RESULT_MIRROR = "result_mirror"
	COMP_SVC_ORCHESTRATOR  = "build_orchestrator"
	COMP_CTRL_BUILD        = "build_ctrl"
	COMP_CTRL_TASK         = "task_ctrl"
	COMP_CTRL_REPO         = "repo_ctrl"
	COMP_CTRL_WS           = "ws_ctrl"
)
