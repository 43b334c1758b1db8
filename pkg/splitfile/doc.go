// Package splitfile builds images from a script of data transformation steps.
//
// A splitfile is a line-based script:
//
//	# comments start with a hash sign
//	FROM EMPTY
//	FROM acme/weather:v1 IMPORT cities AS places, stations
//	SQL CREATE TABLE t (id INTEGER PRIMARY KEY, name TEXT)
//	SQL {
//	    INSERT INTO t VALUES (1, 'x');
//	    INSERT INTO t VALUES (2, '${NAME}')
//	}
//	LOAD_CSV /data/measures.csv measures
//
// Every step yields an image whose hash combines the hash of the previous image with
// the hash of the step. When such an image already exists, the step is skipped.
//
// Custom commands are resolved against a registry, before any step is executed.
package splitfile
