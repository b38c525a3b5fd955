package db

import "fmt"

// SchemaSQL returns the schema definition with HNSW indexes sized for
// dimension-length embeddings.
func SchemaSQL(dimension int) string {
	return fmt.Sprintf(`
    -- ==========================================================================
    -- DOCUMENT TABLE: one row per embedded chunk
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS document SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS content ON document TYPE string;
    DEFINE FIELD IF NOT EXISTS embedding ON document TYPE array<float>;
    DEFINE FIELD IF NOT EXISTS organization_id ON document TYPE string;
    DEFINE FIELD IF NOT EXISTS source_file_name ON document TYPE string;
    DEFINE FIELD IF NOT EXISTS source_file_path ON document TYPE string;
    DEFINE FIELD IF NOT EXISTS source_document_id ON document TYPE string;
    DEFINE FIELD IF NOT EXISTS part_number ON document TYPE int;
    DEFINE FIELD IF NOT EXISTS created ON document TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS document_org ON document FIELDS organization_id;
    DEFINE INDEX IF NOT EXISTS document_source ON document FIELDS source_document_id;
    DEFINE INDEX IF NOT EXISTS document_embedding ON document FIELDS embedding HNSW DIMENSION %[1]d DIST COSINE TYPE F32;

    -- ==========================================================================
    -- QUESTION_ANSWER TABLE: curated knowledge base
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS question_answer SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS question ON question_answer TYPE string;
    DEFINE FIELD IF NOT EXISTS answer ON question_answer TYPE string;
    DEFINE FIELD IF NOT EXISTS organization_id ON question_answer TYPE string;
    DEFINE FIELD IF NOT EXISTS embedding ON question_answer TYPE array<float>;
    DEFINE FIELD IF NOT EXISTS created ON question_answer TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS qa_org ON question_answer FIELDS organization_id;
    DEFINE INDEX IF NOT EXISTS qa_embedding ON question_answer FIELDS embedding HNSW DIMENSION %[1]d DIST COSINE TYPE F32;
`, dimension)
}
