package mysql

const insertEngagementSQL = `
INSERT INTO engagements
  (id, client_id, provider_id, details_text, status, created_at, updated_at)
VALUES
  (?, ?, ?, ?, ?, ?, ?)
`

const engagementColumns = `id, client_id, provider_id, details_text, status, created_at, updated_at`

const getEngagementSQL = `SELECT ` + engagementColumns + ` FROM engagements WHERE id = ?`

const listEngagementsSQL = `
SELECT ` + engagementColumns + `
FROM engagements
WHERE client_id = ? OR provider_id = ?
ORDER BY created_at DESC, id DESC
LIMIT ?`

// transitionSQLPrefix is completed with one placeholder per allowed source status.
const transitionSQLPrefix = `UPDATE engagements SET status = ?, updated_at = ? WHERE id = ? AND status IN `

// Note: `text` is reserved; keep it quoted everywhere.
const insertMessageSQL = "INSERT INTO messages (id, engagement_id, sender_id, `text`, created_at) VALUES (?, ?, ?, ?, ?)"

const getMessageSQL = "SELECT id, engagement_id, sender_id, `text`, created_at FROM messages WHERE id = ?"

const listMessagesSQL = "SELECT id, engagement_id, sender_id, `text`, created_at FROM messages WHERE engagement_id = ? ORDER BY created_at ASC, id ASC"

// -----------------------------------------------------------------------------
// REVIEWS & AGGREGATE
// -----------------------------------------------------------------------------

// Serializes every aggregate write for one provider.
const lockAccountSQL = `SELECT id FROM accounts WHERE id = ? FOR UPDATE`

const insertReviewSQL = `
INSERT INTO reviews
  (id, engagement_id, provider_id, client_id, rating, comment, created_at)
VALUES
  (?, ?, ?, ?, ?, ?, ?)
`

// Locking read: sees the latest committed review set, not the tx snapshot.
const aggregateSQL = `
SELECT COALESCE(AVG(rating), 0), COUNT(*)
FROM reviews
WHERE provider_id = ?
FOR SHARE`

const writeAggregateSQL = `UPDATE accounts SET avg_rating = ?, review_count = ? WHERE id = ?`

const hasReviewSQL = `SELECT EXISTS(SELECT 1 FROM reviews WHERE provider_id = ? AND client_id = ?)`

const listReviewsSQL = `
SELECT id, engagement_id, provider_id, client_id, rating, comment, created_at
FROM reviews
WHERE provider_id = ?
ORDER BY created_at DESC, id DESC
LIMIT ?`

const listRatedProvidersSQL = `SELECT DISTINCT provider_id FROM reviews ORDER BY provider_id`

const getAccountSQL = `
SELECT id, display_name, avatar_url, is_provider, avg_rating, review_count
FROM accounts
WHERE id = ?`

const upsertAccountSQL = `
INSERT INTO accounts (id, display_name, avatar_url, is_provider)
VALUES (?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
  display_name = VALUES(display_name),
  avatar_url   = VALUES(avatar_url),
  is_provider  = VALUES(is_provider)
`
