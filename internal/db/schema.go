package db

import "fmt"

// schemaSQL renders the schema with the embedder's vector dimension.
// The analyzer skips stemming: conversations mix Ukrainian and English,
// and a language-specific stemmer would mangle the other language.
func schemaSQL(dimension int) string {
	return fmt.Sprintf(`
    -- ==========================================================================
    -- TURN TABLE (conversation history)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS turn SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS conversation_id ON turn TYPE string;
    DEFINE FIELD IF NOT EXISTS thread_id ON turn TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS actor_id ON turn TYPE string;
    DEFINE FIELD IF NOT EXISTS role ON turn TYPE string;
    DEFINE FIELD IF NOT EXISTS text ON turn TYPE string;
    DEFINE FIELD IF NOT EXISTS media ON turn TYPE array<object> DEFAULT [];
    DEFINE FIELD IF NOT EXISTS media.* ON turn TYPE object FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS embedding ON turn TYPE array<float> DEFAULT [];
    DEFINE FIELD IF NOT EXISTS reply_to_id ON turn TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS addressed ON turn TYPE bool DEFAULT false;
    DEFINE FIELD IF NOT EXISTS timestamp ON turn TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS access_count ON turn TYPE int DEFAULT 0;

    DEFINE INDEX IF NOT EXISTS turn_conversation ON turn FIELDS conversation_id, timestamp;
    DEFINE INDEX IF NOT EXISTS turn_actor ON turn FIELDS conversation_id, actor_id;
    DEFINE INDEX IF NOT EXISTS turn_embedding ON turn FIELDS embedding HNSW DIMENSION %d DIST COSINE TYPE F32;
    DEFINE ANALYZER IF NOT EXISTS turn_analyzer TOKENIZERS class FILTERS lowercase;
    DEFINE INDEX IF NOT EXISTS turn_text_ft ON turn FIELDS text FULLTEXT ANALYZER turn_analyzer BM25;

    -- ==========================================================================
    -- ASSERTION TABLE (versioned fact store)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS assertion SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS subject_id ON assertion TYPE string;
    DEFINE FIELD IF NOT EXISTS scope ON assertion TYPE string;
    DEFINE FIELD IF NOT EXISTS category ON assertion TYPE string;
    DEFINE FIELD IF NOT EXISTS key ON assertion TYPE string;
    DEFINE FIELD IF NOT EXISTS value ON assertion TYPE string;
    DEFINE FIELD IF NOT EXISTS confidence ON assertion TYPE float DEFAULT 0.5;
    DEFINE FIELD IF NOT EXISTS evidence ON assertion TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS evidence_count ON assertion TYPE int DEFAULT 1;
    DEFINE FIELD IF NOT EXISTS embedding ON assertion TYPE array<float> DEFAULT [];
    DEFINE FIELD IF NOT EXISTS active ON assertion TYPE bool DEFAULT true;
    DEFINE FIELD IF NOT EXISTS version ON assertion TYPE int DEFAULT 1;
    DEFINE FIELD IF NOT EXISTS prev_version_id ON assertion TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS retired_reason ON assertion TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS first_observed ON assertion TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS last_reinforced ON assertion TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS assertion_subject ON assertion FIELDS subject_id, scope, active;
    DEFINE INDEX IF NOT EXISTS assertion_key ON assertion FIELDS subject_id, scope, category, key, active;
    DEFINE INDEX IF NOT EXISTS assertion_embedding ON assertion FIELDS embedding HNSW DIMENSION %d DIST COSINE TYPE F32;

    -- ==========================================================================
    -- EPISODE TABLE (episodic memory)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS episode SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS conversation_id ON episode TYPE string;
    DEFINE FIELD IF NOT EXISTS thread_id ON episode TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS participant_ids ON episode TYPE array<string>;
    DEFINE FIELD IF NOT EXISTS topic ON episode TYPE string;
    DEFINE FIELD IF NOT EXISTS summary ON episode TYPE string;
    DEFINE FIELD IF NOT EXISTS embedding ON episode TYPE array<float> DEFAULT [];
    DEFINE FIELD IF NOT EXISTS importance ON episode TYPE float;
    DEFINE FIELD IF NOT EXISTS emotion ON episode TYPE string DEFAULT "neutral";
    DEFINE FIELD IF NOT EXISTS turn_ids ON episode TYPE array<string>;
    DEFINE FIELD IF NOT EXISTS tags ON episode TYPE array<string> DEFAULT [];
    DEFINE FIELD IF NOT EXISTS archived ON episode TYPE bool DEFAULT false;
    DEFINE FIELD IF NOT EXISTS created_at ON episode TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS last_accessed ON episode TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS access_count ON episode TYPE int DEFAULT 0;

    DEFINE INDEX IF NOT EXISTS episode_conversation ON episode FIELDS conversation_id, archived;
    DEFINE INDEX IF NOT EXISTS episode_embedding ON episode FIELDS embedding HNSW DIMENSION %d DIST COSINE TYPE F32;
    DEFINE ANALYZER IF NOT EXISTS episode_analyzer TOKENIZERS class FILTERS lowercase;
    DEFINE INDEX IF NOT EXISTS episode_summary_ft ON episode FIELDS summary FULLTEXT ANALYZER episode_analyzer BM25;
`, dimension, dimension, dimension)
}
