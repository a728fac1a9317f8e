package model

// SessionState — наблюдаемое состояние сессии загрузки.
// Сессии не транзакционны: после сбоя часть чанков остаётся сохранённой,
// и это видно как PersistedChunks < TotalChunks.
type SessionState struct {
	SessionID       string
	Filename        string
	TotalChunks     int
	PersistedChunks int
	// MissingIndices — индексы из [0, TotalChunks), для которых нет записи
	MissingIndices []int
	// PersistedBytes — сумма размеров сохранённых чанков
	PersistedBytes int64
	Complete       bool
}

// BuildSessionState вычисляет состояние сессии по отсортированным записям чанков.
// TotalChunks берётся из первой записи, содержащей это поле.
func BuildSessionState(sessionID string, chunks []*FileRecord) SessionState {
	st := SessionState{SessionID: sessionID, PersistedChunks: len(chunks)}
	present := make(map[int]bool, len(chunks))
	for _, c := range chunks {
		if st.Filename == "" {
			st.Filename = c.OriginalFilename
		}
		if st.TotalChunks == 0 && c.TotalChunks != nil {
			st.TotalChunks = *c.TotalChunks
		}
		present[c.Index()] = true
		st.PersistedBytes += c.OriginalFileSize
	}
	for i := 0; i < st.TotalChunks; i++ {
		if !present[i] {
			st.MissingIndices = append(st.MissingIndices, i)
		}
	}
	st.Complete = st.TotalChunks > 0 && len(st.MissingIndices) == 0 && st.PersistedChunks == st.TotalChunks
	return st
}
