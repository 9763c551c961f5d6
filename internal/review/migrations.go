package review

const schema = `
CREATE TABLE IF NOT EXISTS reviews (
    source TEXT NOT NULL,
    task_id TEXT NOT NULL,
    reviewed BOOLEAN NOT NULL DEFAULT FALSE,
    notes TEXT NOT NULL DEFAULT '',
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (source, task_id)
);

CREATE INDEX IF NOT EXISTS idx_reviews_source ON reviews(source);
`
