package storage

// OverwriteSnapshotBody reemplaza el JSON guardado tal cual, sin validar.
func OverwriteSnapshotBody(s *SQLiteStorage, body string) error {
	_, err := s.db.Exec(`UPDATE snapshot SET body = ? WHERE id = 1`, body)
	return err
}
