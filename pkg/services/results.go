package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/easyinjection/scand/pkg/models"
)

// remediation is the canned fix suggestion persisted with each finding,
// keyed on vulnerability type.
var remediation = map[models.VulnType]string{
	models.VulnSQLi: "Utilice consultas parametrizadas o sentencias preparadas; nunca concatene entrada del usuario en el SQL. Valide y limite los privilegios de la cuenta de base de datos.",
	models.VulnXSS:  "Codifique la salida según el contexto (HTML, atributo, JavaScript) y aplique una Content-Security-Policy. Valide la entrada en el servidor.",
}

// reference is the study link persisted with each finding.
var reference = map[models.VulnType]string{
	models.VulnSQLi: "https://owasp.org/www-community/attacks/SQL_Injection",
	models.VulnXSS:  "https://owasp.org/www-community/attacks/xss/",
}

// typeDescription seeds the vulnerability type catalog on first use.
var typeDescription = map[models.VulnType]string{
	models.VulnSQLi: "Inyección de código SQL en consultas de la aplicación",
	models.VulnXSS:  "Ejecución de scripts inyectados en el navegador de la víctima",
}

// ResultService persists scan lifecycle and completed results.
type ResultService struct {
	db *sql.DB
}

// NewResultService creates the service over a pooled connection.
func NewResultService(db *sql.DB) *ResultService {
	return &ResultService{db: db}
}

// CreateScan inserts the pending scan record.
func (s *ResultService) CreateScan(ctx context.Context, scan models.Scan) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO escaneos (id, usuario_id, alias, url, sqli, xss, estado, gestor)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''))`,
		scan.ID, scan.UserID, scan.Alias, scan.URL, scan.SQLi, scan.XSS, models.ScanPending, scan.DBMS)
	if err != nil {
		return fmt.Errorf("inserting scan: %w", err)
	}
	return nil
}

// MarkRunning transitions the scan to en_progreso and stamps fecha_inicio.
func (s *ResultService) MarkRunning(ctx context.Context, scanID string) error {
	return s.setState(ctx, scanID, models.ScanRunning, "fecha_inicio")
}

// MarkState records a terminal state (error, detenido) with fecha_fin.
// Finalization with score goes through SaveResults instead.
func (s *ResultService) MarkState(ctx context.Context, scanID string, state models.ScanState) error {
	return s.setState(ctx, scanID, state, "fecha_fin")
}

func (s *ResultService) setState(ctx context.Context, scanID string, state models.ScanState, stampColumn string) error {
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE escaneos SET estado = $1, %s = $2 WHERE id = $3`, stampColumn),
		state, time.Now().UTC(), scanID)
	if err != nil {
		return fmt.Errorf("updating scan state: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetScan loads one scan record.
func (s *ResultService) GetScan(ctx context.Context, scanID string) (*models.Scan, error) {
	var scan models.Scan
	var gestor sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, usuario_id, alias, url, sqli, xss, estado, COALESCE(gestor, ''), fecha_inicio, fecha_fin
		FROM escaneos WHERE id = $1`, scanID).
		Scan(&scan.ID, &scan.UserID, &scan.Alias, &scan.URL, &scan.SQLi, &scan.XSS,
			&scan.State, &gestor, &scan.StartedAt, &scan.EndedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading scan: %w", err)
	}
	scan.DBMS = gestor.String
	return &scan, nil
}

// SaveResults writes everything a completed scan produced in one
// transaction: findings with their type/severity catalog rows, the per-scan
// answer records, the final score on the scan row, and the user-facing
// notification plus activity entry.
func (s *ResultService) SaveResults(ctx context.Context, scanID string, vulns []models.Vulnerability, answers []models.QuestionResult, score models.Score) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var userID string
	if err := tx.QueryRowContext(ctx, `SELECT usuario_id FROM escaneos WHERE id = $1`, scanID).Scan(&userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("loading scan owner: %w", err)
	}

	for _, v := range vulns {
		if err := s.insertVulnerability(ctx, tx, scanID, v); err != nil {
			return err
		}
	}
	for _, r := range answers {
		if err := s.insertAnswer(ctx, tx, scanID, r); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE escaneos SET estado = $1, fecha_fin = $2,
			puntos_cuestionario = $3, total_puntos_cuestionario = $4,
			vulnerabilidades_encontradas = $5, puntuacion_final = $6, calificacion = $7
		WHERE id = $8`,
		models.ScanFinished, time.Now().UTC(),
		score.QuizPoints, score.TotalQuizPoints, score.VulnCount, score.Final, score.Grade,
		scanID); err != nil {
		return fmt.Errorf("closing scan record: %w", err)
	}

	message := fmt.Sprintf("El escaneo ha finalizado con una puntuación de %d (%s).", score.Final, score.Grade)
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO notificaciones (usuario_id, tipo, titulo, mensaje, relacionado_id)
		VALUES ($1, 'scan_completed', 'Escaneo completado', $2, $3)`,
		userID, message, scanID); err != nil {
		return fmt.Errorf("inserting notification: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO actividad (usuario_id, tipo, descripcion, relacionado_id)
		VALUES ($1, 'scan_completed', $2, $3)`,
		userID, message, scanID); err != nil {
		return fmt.Errorf("inserting activity: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing results: %w", err)
	}
	return nil
}

func (s *ResultService) insertVulnerability(ctx context.Context, tx *sql.Tx, scanID string, v models.Vulnerability) error {
	var typeID int
	if err := tx.QueryRowContext(ctx, `
		INSERT INTO tipos_vulnerabilidad (nombre, descripcion) VALUES ($1, $2)
		ON CONFLICT (nombre) DO UPDATE SET nombre = EXCLUDED.nombre
		RETURNING id`,
		string(v.Type), typeDescription[v.Type]).Scan(&typeID); err != nil {
		return fmt.Errorf("resolving vulnerability type: %w", err)
	}

	var severityID int
	if err := tx.QueryRowContext(ctx, `
		INSERT INTO niveles_severidad (nombre) VALUES ($1)
		ON CONFLICT (nombre) DO UPDATE SET nombre = EXCLUDED.nombre
		RETURNING id`,
		v.Severity.SpanishName()).Scan(&severityID); err != nil {
		return fmt.Errorf("resolving severity level: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO vulnerabilidades
			(escaneo_id, tipo_id, nivel_severidad_id, url_afectada, parametro_afectado, descripcion, sugerencia, referencia)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		scanID, typeID, severityID, v.Endpoint, v.Parameter, v.Description,
		remediation[v.Type], reference[v.Type]); err != nil {
		return fmt.Errorf("inserting vulnerability: %w", err)
	}
	return nil
}

// insertAnswer persists one quiz result. In-memory prompts (the builtin
// bank) get their question and answer rows created on first use.
func (s *ResultService) insertAnswer(ctx context.Context, tx *sql.Tx, scanID string, r models.QuestionResult) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO preguntas (id, fase, texto, puntos) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING`,
		r.QuestionID, r.PhaseTag, r.Text, r.Points); err != nil {
		return fmt.Errorf("resolving question: %w", err)
	}

	var selectedID sql.NullString
	for i, opt := range r.Options {
		if i >= len(r.AnswerIDs) {
			break
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO respuestas (id, pregunta_id, texto, es_correcta, orden)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO NOTHING`,
			r.AnswerIDs[i], r.QuestionID, opt, i == r.CorrectIndex, i); err != nil {
			return fmt.Errorf("resolving answer option: %w", err)
		}
		if i == r.UserAnswer {
			selectedID = sql.NullString{String: r.AnswerIDs[i], Valid: true}
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO respuestas_escaneo (escaneo_id, pregunta_id, respuesta_seleccionada_id, es_correcta, puntos_obtenidos)
		VALUES ($1, $2, $3, $4, $5)`,
		scanID, r.QuestionID, selectedID, r.Correct, r.PointsEarned); err != nil {
		return fmt.Errorf("inserting scan answer: %w", err)
	}
	return nil
}

// PruneNotifications deletes read notifications older than the cutoff.
// Returns the number of rows removed.
func (s *ResultService) PruneNotifications(ctx context.Context, olderThan time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM notificaciones WHERE leida AND creada_en < $1`,
		time.Now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("pruning notifications: %w", err)
	}
	return res.RowsAffected()
}
