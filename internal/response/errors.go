package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrSessionActive      ErrCode = "SESSION_ALREADY_ACTIVE"
	ErrSessionInvalidated ErrCode = "SESSION_INVALIDATED"
	ErrTokenRequired      ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid       ErrCode = "TOKEN_INVALID"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrForbidden ErrCode = "FORBIDDEN"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Attempt ───────────────────────────────────────────────────────
	ErrExamNotAvailable  ErrCode = "EXAM_NOT_AVAILABLE"
	ErrExamNotPublished  ErrCode = "EXAM_NOT_PUBLISHED"
	ErrNoActiveSession   ErrCode = "NO_ACTIVE_SESSION"
	ErrSessionCompleted  ErrCode = "SESSION_COMPLETED"
	ErrUnknownQuestion   ErrCode = "UNKNOWN_QUESTION"
	ErrInvalidSelection  ErrCode = "INVALID_SELECTION"
	ErrSubmitInProgress  ErrCode = "SUBMIT_IN_PROGRESS"
	ErrUnknownAction     ErrCode = "UNKNOWN_ACTION"
	ErrAutosaveFailed    ErrCode = "AUTOSAVE_FAILED"
	ErrSubmitFailed      ErrCode = "SUBMIT_FAILED"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	case ErrSessionActive:
		return "Anda sudah login di perangkat lain."
	case ErrSessionInvalidated:
		return "Sesi Anda telah berakhir. Silakan login kembali."
	case ErrTokenRequired:
		return "Token autentikasi diperlukan."
	case ErrTokenInvalid:
		return "Token autentikasi tidak valid."

	case ErrForbidden:
		return "Anda tidak memiliki izin untuk mengakses sumber daya ini."

	case ErrValidation:
		return "Validasi gagal. Silakan periksa masukan Anda."
	case ErrInvalidID:
		return "Format ID tidak valid."
	case ErrInvalidPayload:
		return "Payload permintaan tidak valid."

	case ErrExamNotAvailable:
		return "Ujian ini saat ini tidak tersedia."
	case ErrExamNotPublished:
		return "Ujian ini belum dipublikasikan."
	case ErrNoActiveSession:
		return "Anda belum memulai ujian ini."
	case ErrSessionCompleted:
		return "Ujian ini sudah dikumpulkan."
	case ErrUnknownQuestion:
		return "Soal tidak ditemukan pada ujian ini."
	case ErrInvalidSelection:
		return "Pilihan jawaban tidak valid."
	case ErrSubmitInProgress:
		return "Pengumpulan ujian sedang diproses."
	case ErrUnknownAction:
		return "Aksi tidak dikenal."
	case ErrAutosaveFailed:
		return "Jawaban gagal disimpan. Silakan coba lagi."
	case ErrSubmitFailed:
		return "Ujian gagal dikumpulkan. Silakan coba lagi."

	case ErrRateLimitExceeded:
		return "Terlalu banyak permintaan. Silakan coba lagi nanti."

	case ErrInternal:
		return "Terjadi kesalahan server internal."
	default:
		return "Terjadi kesalahan yang tidak terduga."
	}
}
