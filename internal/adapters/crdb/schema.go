package crdb

// Schema is the engine's DDL. Tests apply it to throwaway databases;
// deployments run it through their migration tooling.
const Schema = `
CREATE TABLE IF NOT EXISTS unit_claims (
	showing_id UUID NOT NULL,
	unit_id TEXT NOT NULL,
	booking_id UUID NOT NULL,
	state TEXT NOT NULL CHECK (state IN ('HELD', 'SOLD', 'RELEASED')),
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS unit_claims_active
	ON unit_claims (showing_id, unit_id) WHERE state IN ('HELD', 'SOLD');

CREATE TABLE IF NOT EXISTS bookings (
	id UUID PRIMARY KEY,
	user_id UUID NOT NULL,
	showing_kind TEXT NOT NULL CHECK (showing_kind IN ('movie', 'sport', 'nightlife')),
	showing_id UUID NOT NULL,
	units TEXT[] NOT NULL,
	amount NUMERIC NOT NULL,
	status TEXT NOT NULL CHECK (status IN ('PENDING', 'PAID', 'CANCELLED', 'EXPIRED')),
	checkout_session TEXT,
	redemption_token TEXT,
	redeemed BOOL NOT NULL DEFAULT false,
	redeemed_at TIMESTAMPTZ,
	refund_amount NUMERIC,
	cancelled_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS bookings_token
	ON bookings (redemption_token) WHERE redemption_token IS NOT NULL;
CREATE INDEX IF NOT EXISTS bookings_user ON bookings (user_id, created_at DESC);

CREATE TABLE IF NOT EXISTS reclaim_jobs (
	booking_id UUID PRIMARY KEY,
	fire_at TIMESTAMPTZ NOT NULL,
	attempts INT NOT NULL DEFAULT 0,
	status TEXT NOT NULL CHECK (status IN ('SCHEDULED', 'DONE'))
);
CREATE INDEX IF NOT EXISTS reclaim_jobs_due ON reclaim_jobs (fire_at) WHERE status = 'SCHEDULED';

CREATE TABLE IF NOT EXISTS outbox (
	id UUID PRIMARY KEY,
	aggregate_type TEXT NOT NULL,
	aggregate_id UUID NOT NULL,
	event_type TEXT NOT NULL,
	payload_json BYTES NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	published_at TIMESTAMPTZ,
	status TEXT NOT NULL CHECK (status IN ('NEW', 'PUBLISHED', 'FAILED')),
	dedupe_key TEXT NOT NULL
);
`
