package notify

// Stage is the wire name of a flow phase. Values are shared with
// existing listeners and must not change.
type Stage string

const (
	StageInitial Stage = "initial"
	// StageError is the terminal failure stage of every flow.
	StageError Stage = "push_error"

	StagePushDumping             Stage = "push_dumping"
	StagePushDumpingCompleted    Stage = "push_dumping_completed"
	StagePushEncrypting          Stage = "push_encrypting"
	StagePushEncryptingCompleted Stage = "push_encrypting_completed"
	StagePushSending             Stage = "push_sending"
	StagePushSendingCompleted    Stage = "push_sending_completed"
	StagePushCompleted           Stage = "push_completed"

	StagePullDownloading                Stage = "pull_downloading"
	StagePullDownloadingCompleted       Stage = "pull_downloading_completed"
	StagePullDecrypting                 Stage = "pull_decrypting"
	StagePullDecryptingCompleted        Stage = "pull_decrypting_completed"
	StagePullApplying                   Stage = "pull_applying"
	StagePullWaitForPermission          Stage = "pull_wait_for_permission"
	StagePullWaitForPermissionCompleted Stage = "pull_wait_for_permission_completed"
	StagePullApplyingCompleted          Stage = "pull_applying_completed"
	StagePullCompleted                  Stage = "pull_completed"

	StageSettingsLoading           Stage = "settings_loading"
	StageSettingsLoadingCompleted  Stage = "settings_loading_completed"
	StageSettingsUpdating          Stage = "settings_updating"
	StageSettingsUpdatingCompleted Stage = "settings_updating_completed"

	StageApplyAutoSyncInterval          Stage = "apply_auto_sync_interval"
	StageApplyAutoSyncIntervalCompleted Stage = "apply_auto_sync_interval_completed"
	StageApplySyncOnChange              Stage = "apply_sync_on_change"
	StageApplySyncOnChangeCompleted     Stage = "apply_sync_on_change_completed"
	StageApplyCookieSuccess             Stage = "apply_cookie_success"
	StageApplyCookieFailed              Stage = "apply_cookie_failed"
)
