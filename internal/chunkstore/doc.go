// Package chunkstore хранит чанки загрузок на локальном диске.
//
// Раскладка каталога:
//
//	<root>/<base64url(identifier)>/meta.json     манифест сессии
//	<root>/<base64url(identifier)>/000001.part   чанк №1
//	<root>/.incoming/<uuid>.tmp                  принимаемые, ещё не зафиксированные чанки
//
// Запись идёт во временный файл, после fsync он атомарно переименовывается в ключ чанка,
// поэтому повторная отправка того же чанка просто перезаписывает его целиком.
package chunkstore
