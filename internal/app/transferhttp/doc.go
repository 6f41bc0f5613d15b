// Package transferhttp реализует HTTP-интерфейс сервиса приёма чанков. Основные эндпоинты:
//   - POST /upload/chunk: multipart-форма с полями чанка и файлом в поле file; отдаёт квитанцию.
//   - GET /upload/chunk?identifier=...: предварительная проверка (skipUpload и уже полученные чанки).
//   - POST /upload/merge: явный запуск сборки по идентификатору.
//   - GET /upload/sessions, GET|DELETE /upload/sessions/{identifier}: состояние и сброс сессий.
//   - POST /admin/gc: ручной проход сборщика брошенных загрузок.
//   - GET /health: объём данных в каталогах чанков и публикаций.
//   - GET /downloads/*: раздача опубликованных файлов.
package transferhttp
